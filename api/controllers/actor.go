package controllers

import (
	"context"

	"github.com/google/uuid"

	"github.com/dgutierrez-ams/orderflow-backend/api/middleware"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/enums"
	pkgerrors "github.com/dgutierrez-ams/orderflow-backend/pkg/errors"
)

// actorFromContext pulls the authenticated identity the auth middleware seeded.
func actorFromContext(ctx context.Context) (uuid.UUID, enums.MemberRole, error) {
	raw := middleware.UserIDFromContext(ctx)
	if raw == "" {
		return uuid.Nil, "", pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, "", pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}
	role, err := enums.ParseMemberRole(middleware.RoleFromContext(ctx))
	if err != nil {
		return uuid.Nil, "", pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid role")
	}
	return userID, role, nil
}
