package auth

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgAuth "github.com/dgutierrez-ams/orderflow-backend/pkg/auth"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/auth/session"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/config"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/db/models"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/enums"
	pkgerrors "github.com/dgutierrez-ams/orderflow-backend/pkg/errors"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/security"
)

type stubUserRepo struct {
	byEmail map[string]*models.User
	created []*models.User
}

func newStubUserRepo() *stubUserRepo {
	return &stubUserRepo{byEmail: map[string]*models.User{}}
}

func (s *stubUserRepo) Create(_ context.Context, user *models.User) (*models.User, error) {
	if _, exists := s.byEmail[user.Email]; exists {
		return nil, gorm.ErrDuplicatedKey
	}
	user.ID = uuid.New()
	s.byEmail[user.Email] = user
	s.created = append(s.created, user)
	return user, nil
}

func (s *stubUserRepo) FindByEmail(_ context.Context, email string) (*models.User, error) {
	user, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return user, nil
}

type stubSessionManager struct {
	sessions map[string]string
	revoked  []string
}

func newStubSessionManager() *stubSessionManager {
	return &stubSessionManager{sessions: map[string]string{}}
}

func (s *stubSessionManager) Generate(_ context.Context, accessID string) (string, error) {
	token := "refresh-" + accessID
	s.sessions[accessID] = token
	return token, nil
}

func (s *stubSessionManager) Rotate(_ context.Context, oldAccessID, provided string) (string, string, error) {
	stored, ok := s.sessions[oldAccessID]
	if !ok || stored != provided {
		return "", "", session.ErrInvalidRefreshToken
	}
	delete(s.sessions, oldAccessID)
	newAccessID := session.NewAccessID()
	token := "refresh-" + newAccessID
	s.sessions[newAccessID] = token
	return newAccessID, token, nil
}

func (s *stubSessionManager) Revoke(_ context.Context, accessID string) error {
	s.revoked = append(s.revoked, accessID)
	delete(s.sessions, accessID)
	return nil
}

func testConfigs() (config.JWTConfig, config.PasswordConfig) {
	jwtCfg := config.JWTConfig{
		Secret:            "test-secret",
		Issuer:            "orderflow-test",
		ExpirationMinutes: 30,
	}
	passwordCfg := config.PasswordConfig{
		ArgonMemoryKB:    1024,
		ArgonTime:        1,
		ArgonParallelism: 1,
		ArgonSaltLen:     16,
		ArgonKeyLen:      32,
	}
	return jwtCfg, passwordCfg
}

func newTestService(t *testing.T) (Service, *stubUserRepo, *stubSessionManager) {
	t.Helper()
	users := newStubUserRepo()
	sessions := newStubSessionManager()
	jwtCfg, passwordCfg := testConfigs()
	svc, err := NewService(ServiceParams{
		UserRepo:       users,
		SessionManager: sessions,
		JWTConfig:      jwtCfg,
		PasswordConfig: passwordCfg,
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc, users, sessions
}

func seedUser(t *testing.T, users *stubUserRepo, email, password string, isAdmin bool) *models.User {
	t.Helper()
	_, passwordCfg := testConfigs()
	hashed, err := security.HashPassword(password, passwordCfg)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := &models.User{
		ID:             uuid.New(),
		Email:          email,
		FullName:       "Test User",
		HashedPassword: hashed,
		IsActive:       true,
		IsAdmin:        isAdmin,
	}
	users.byEmail[email] = user
	return user
}

func TestRegisterIssuesTokens(t *testing.T) {
	t.Parallel()

	svc, users, _ := newTestService(t)
	ctx := context.Background()

	resp, err := svc.Register(ctx, RegisterRequest{
		Email:    "Buyer@Example.com",
		Password: "a-strong-password",
		FullName: "Buyer One",
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if resp.User.Email != "buyer@example.com" {
		t.Fatalf("expected normalized email, got %q", resp.User.Email)
	}
	if resp.User.Role != enums.MemberRoleCustomer {
		t.Fatalf("Role = %s, want customer", resp.User.Role)
	}
	if resp.Tokens.AccessToken == "" || resp.Tokens.RefreshToken == "" {
		t.Fatal("expected a token pair")
	}
	if len(users.created) != 1 {
		t.Fatalf("created = %d users, want 1", len(users.created))
	}
	if users.created[0].HashedPassword == "a-strong-password" {
		t.Fatal("password must not be stored in the clear")
	}
}

func TestRegisterDuplicateEmailConflicts(t *testing.T) {
	t.Parallel()

	svc, users, _ := newTestService(t)
	ctx := context.Background()
	seedUser(t, users, "taken@example.com", "whatever-pass", false)

	_, err := svc.Register(ctx, RegisterRequest{
		Email:    "taken@example.com",
		Password: "another-pass",
		FullName: "Second",
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestLoginSucceedsWithValidCredentials(t *testing.T) {
	t.Parallel()

	svc, users, _ := newTestService(t)
	ctx := context.Background()
	seedUser(t, users, "admin@example.com", "correct-password", true)

	resp, err := svc.Login(ctx, LoginRequest{Email: "admin@example.com", Password: "correct-password"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if resp.User.Role != enums.MemberRoleAdmin {
		t.Fatalf("Role = %s, want admin", resp.User.Role)
	}

	jwtCfg, _ := testConfigs()
	claims, err := pkgAuth.ParseAccessToken(jwtCfg, resp.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("parse minted token: %v", err)
	}
	if claims.Role != enums.MemberRoleAdmin {
		t.Fatalf("claims role = %s, want admin", claims.Role)
	}
}

func TestLoginRejectsBadPasswordAndUnknownUser(t *testing.T) {
	t.Parallel()

	svc, users, _ := newTestService(t)
	ctx := context.Background()
	seedUser(t, users, "known@example.com", "right-password", false)

	_, err := svc.Login(ctx, LoginRequest{Email: "known@example.com", Password: "wrong"})
	if !pkgerrors.HasCode(err, pkgerrors.CodeUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}

	_, err = svc.Login(ctx, LoginRequest{Email: "nobody@example.com", Password: "whatever"})
	if !pkgerrors.HasCode(err, pkgerrors.CodeUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestLoginRejectsInactiveUser(t *testing.T) {
	t.Parallel()

	svc, users, _ := newTestService(t)
	ctx := context.Background()
	user := seedUser(t, users, "gone@example.com", "right-password", false)
	user.IsActive = false

	_, err := svc.Login(ctx, LoginRequest{Email: "gone@example.com", Password: "right-password"})
	if !pkgerrors.HasCode(err, pkgerrors.CodeUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestRefreshRotatesSession(t *testing.T) {
	t.Parallel()

	svc, users, _ := newTestService(t)
	ctx := context.Background()
	seedUser(t, users, "user@example.com", "right-password", false)

	login, err := svc.Login(ctx, LoginRequest{Email: "user@example.com", Password: "right-password"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	pair, err := svc.Refresh(ctx, RefreshRequest{
		AccessToken:  login.Tokens.AccessToken,
		RefreshToken: login.Tokens.RefreshToken,
	})
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if pair.AccessToken == login.Tokens.AccessToken {
		t.Fatal("expected a new access token")
	}

	// The old refresh token is burned.
	_, err = svc.Refresh(ctx, RefreshRequest{
		AccessToken:  login.Tokens.AccessToken,
		RefreshToken: login.Tokens.RefreshToken,
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeUnauthorized) {
		t.Fatalf("expected unauthorized on replay, got %v", err)
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	t.Parallel()

	svc, _, sessions := newTestService(t)

	if err := svc.Logout(context.Background(), "some-access-id"); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if len(sessions.revoked) != 1 || sessions.revoked[0] != "some-access-id" {
		t.Fatalf("unexpected revocations: %v", sessions.revoked)
	}
}
