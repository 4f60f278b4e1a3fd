package http

import (
	"log/slog"

	"github.com/apfiles/apfiles/internal/auth"
	"github.com/apfiles/apfiles/internal/config"
	"github.com/apfiles/apfiles/internal/datastore"
	"github.com/apfiles/apfiles/internal/domain/user"
	"github.com/apfiles/apfiles/internal/http/handlers"
	"github.com/apfiles/apfiles/internal/http/middlewares"
	"github.com/apfiles/apfiles/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

func NewRouter(
	log *slog.Logger,
	cfg config.Config,
	ds *datastore.DataStore,
	jwtManager *auth.Manager,
	prom *observability.Prom,
	loginLimiter middlewares.Allower,
	ping func() error,
) *gin.Engine {
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	// middleware

	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("apfiles-api"))
	r.Use(RequestID())
	r.Use(RequestLogger(log))
	r.Use(prom.GinHandleMiddleware())
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddleware(cfg.AllowedOrigins))
	r.Use(middlewares.MaxBodyBytes(cfg.MaxBodyBytes))
	r.Use(middlewares.RequireJSON())

	// health + metrics
	h := handlers.NewHealthHandler(ping)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// wire up handlers against the facade
	authHandler := handlers.NewAuthHandler(ds, jwtManager, cfg)
	usersHandler := handlers.NewUsersHandler(ds)
	requestsHandler := handlers.NewRequestsHandler(ds)

	authMW := middlewares.NewAuthMiddleware(jwtManager)
	throttle := middlewares.Throttle(loginLimiter, middlewares.KeyByIP)

	r.POST("/auth/login", throttle, authHandler.Login)
	r.POST("/auth/register", throttle, authHandler.Register)

	authed := r.Group("/", authMW.RequireAuth())
	builderOnly := authMW.RequireRole(string(user.RoleBuilder))

	authed.GET("/requests", requestsHandler.ListRequests)
	authed.POST("/requests", requestsHandler.CreateRequest)
	authed.PATCH("/requests/:id", builderOnly, requestsHandler.UpdateRequest)

	authed.GET("/users", builderOnly, usersHandler.ListUsers)
	authed.PATCH("/users/:id", usersHandler.UpdateUser)
	authed.DELETE("/users/:id", builderOnly, usersHandler.DeleteUser)

	return r
}
