package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dgutierrez-ams/orderflow-backend/api/controllers"
	"github.com/dgutierrez-ams/orderflow-backend/api/middleware"
	"github.com/dgutierrez-ams/orderflow-backend/internal/auth"
	"github.com/dgutierrez-ams/orderflow-backend/internal/catalog"
	"github.com/dgutierrez-ams/orderflow-backend/internal/notifications"
	"github.com/dgutierrez-ams/orderflow-backend/internal/orders"
	"github.com/dgutierrez-ams/orderflow-backend/internal/stockledger"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/auth/session"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/config"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/db"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/enums"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/logger"
	"github.com/dgutierrez-ams/orderflow-backend/pkg/redis"
)

// NewRouter assembles the HTTP surface.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	sessions session.AccessSessionChecker,
	authService auth.Service,
	catalogService catalog.Service,
	ordersService orders.Service,
	ledgerService stockledger.Service,
	notificationsService notifications.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Post("/register", controllers.AuthRegister(authService, logg))
		r.Post("/login", controllers.AuthLogin(authService, logg))
		r.Post("/refresh", controllers.AuthRefresh(authService, logg))
		r.With(middleware.Auth(cfg.JWT, sessions, logg)).
			Post("/logout", controllers.AuthLogout(authService, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, sessions, logg))

		r.Route("/products", func(r chi.Router) {
			r.Get("/", controllers.ListProducts(catalogService, logg))
			r.Get("/{productId}", controllers.ProductDetail(catalogService, logg))
			r.Get("/{productId}/stock", controllers.StockView(ledgerService, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", controllers.CreateOrder(ordersService, logg))
			r.Get("/", controllers.ListMyOrders(ordersService, logg))
			r.Get("/{orderId}", controllers.OrderDetail(ordersService, logg))
			r.Get("/{orderId}/summary", controllers.OrderSummary(ordersService, logg))
			r.Post("/{orderId}/cancel", controllers.CancelOrder(ordersService, logg))
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(notificationsService, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(notificationsService, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, sessions, logg))
		r.Use(middleware.RequireRole(enums.MemberRoleAdmin.String(), logg))

		r.Route("/products", func(r chi.Router) {
			r.Post("/", controllers.AdminCreateProduct(catalogService, logg))
		})

		r.Route("/inventory", func(r chi.Router) {
			r.Get("/low-stock", controllers.LowStock(ledgerService, logg))
			r.Post("/{productId}/restock", controllers.RestockProduct(ledgerService, logg))
			r.Post("/{productId}/recount", controllers.RecountProduct(ledgerService, logg))
			r.Get("/{productId}/movements", controllers.StockMovements(ledgerService, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", controllers.AdminListOrders(ordersService, logg))
			r.Post("/{orderId}/transition", controllers.AdminTransitionOrder(ordersService, logg))
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.AdminListNotifications(notificationsService, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(notificationsService, logg))
		})
	})

	return r
}
