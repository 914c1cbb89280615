package apiserver

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dossierflow/dossierflow/pkg/access"
	"github.com/dossierflow/dossierflow/pkg/apiserver/handlers"
	"github.com/dossierflow/dossierflow/pkg/apiserver/middleware"
	"github.com/dossierflow/dossierflow/pkg/config"
	"github.com/dossierflow/dossierflow/pkg/directory"
	"github.com/dossierflow/dossierflow/pkg/eventbus"
	"github.com/dossierflow/dossierflow/pkg/identity"
	"github.com/dossierflow/dossierflow/pkg/listing"
	"github.com/dossierflow/dossierflow/pkg/notify"
	"github.com/dossierflow/dossierflow/pkg/store/postgres"
	"github.com/dossierflow/dossierflow/pkg/workflow"
)

// Services groups the domain components the HTTP layer dispatches to.
// Bus is optional.
type Services struct {
	Store        *postgres.Store
	Resolver     *access.Resolver
	Engine       *workflow.Engine
	Instructions *workflow.InstructionCatalog
	Listing      *listing.Service
	Directory    *directory.Directory
	Identity     *identity.Service
	Notifier     *notify.Dispatcher
	Bus          *eventbus.Bus
}

type Server struct {
	router *gin.Engine
	http   *http.Server
	svc    Services
	cfg    *config.Config
	logger *zap.Logger
}

func NewServer(cfg *config.Config, svc Services, logger *zap.Logger) *Server {
	if err := registerValidators(); err != nil {
		logger.Error("failed to register request validators", zap.Error(err))
	}

	s := &Server{
		svc:    svc,
		cfg:    cfg,
		logger: logger,
	}
	s.setupRouter()

	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(s.cfg.CORS))

	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	svc := s.svc
	users := handlers.NewUserHandler(svc.Identity, s.logger)

	api := r.Group("/api")
	api.POST("/users/login", users.Login)

	secured := api.Group("")
	{
		secured.Use(middleware.Auth(svc.Resolver, s.logger))
		perm := func(codes ...string) gin.HandlerFunc {
			return middleware.RequirePermissions(s.logger, codes...)
		}

		secured.GET("/users/me", users.Me)
		secured.GET("/users", perm(access.ManageUsers), users.List)
		secured.POST("/users", perm(access.ManageUsers), users.Create)
		secured.GET("/users/:id", perm(access.ManageUsers), users.Get)
		secured.PUT("/users/:id", users.Update)
		secured.DELETE("/users/:id", perm(access.ManageUsers), users.Delete)

		profiles := handlers.NewProfileHandler(svc.Identity, s.logger)
		secured.GET("/profiles", perm(access.ManageUsers), profiles.List)
		secured.POST("/profiles", perm(access.ManageUsers), profiles.Create)
		secured.GET("/profiles/:id", perm(access.ManageUsers), profiles.Get)
		secured.GET("/permissions", perm(access.ManageUsers), profiles.ListPermissions)
		secured.POST("/permissions", perm(access.ManageUsers), profiles.CreatePermission)

		dossiers := handlers.NewDossierHandler(svc.Engine, svc.Listing, svc.Resolver, s.logger)
		secured.GET("/dossiers", perm(access.ViewDossiers), dossiers.List)
		secured.POST("/dossiers", perm(access.CreateDossier), dossiers.Create)
		secured.POST("/dossiers/add-instruction", perm(access.AddInstruction), dossiers.AddInstruction)
		secured.PUT("/dossiers/:id", perm(access.UpdateDossier), dossiers.Update)
		secured.DELETE("/dossiers/:id", perm(access.DeleteDossier), dossiers.Delete)
		secured.GET("/dossiers/:id/suivi", perm(access.ViewDossier), dossiers.Suivi)
		secured.GET("/dossiers/:id/instructions", perm(access.ViewInstruction), dossiers.Instructions)

		situations := handlers.NewSituationHandler(svc.Engine, svc.Listing, svc.Resolver, s.logger)
		secured.GET("/situations/search", perm(access.EditEtat), situations.Search)
		secured.GET("/situations/dashboard", perm(access.EditEtat), situations.Dashboard)
		secured.POST("/situations/:num_dossier", perm(access.EditEtat), situations.Add)
		secured.POST("/situations/:num_dossier/change-etat", perm(access.EditEtat), situations.ChangeState)
		secured.GET("/situations/:num_dossier/etat", perm(access.EditEtat), situations.Current)

		instructions := handlers.NewInstructionHandler(svc.Instructions, s.logger)
		secured.GET("/instructions", perm(access.ViewInstruction), instructions.List)
		secured.GET("/instructions/:id", perm(access.ViewInstruction), instructions.Get)
		secured.POST("/instructions", perm(access.AddInstruction), instructions.Create)
		secured.PUT("/instructions/:id", perm(access.EditInstruction), instructions.Update)
		secured.DELETE("/instructions/:id", perm(access.DeleteInstruction), instructions.Delete)

		dir := handlers.NewDirectoryHandler(svc.Directory, s.logger)
		secured.GET("/divisions", perm(access.ViewDivision), dir.ListDivisions)
		secured.GET("/divisions/export/:format", perm(access.ViewDivision), dir.ExportDivisions)
		secured.GET("/divisions/:id", perm(access.ViewDivision), dir.GetDivision)
		secured.POST("/divisions", perm(access.AddDivision), dir.CreateDivision)
		secured.PUT("/divisions/:id", perm(access.EditDivision), dir.UpdateDivision)
		secured.DELETE("/divisions/:id", perm(access.DeleteDivision), dir.DeleteDivision)

		secured.GET("/services", perm(access.ViewService), dir.ListServices)
		secured.GET("/services/export/:format", perm(access.ViewService), dir.ExportServices)
		secured.GET("/services/:id", perm(access.ViewService), dir.GetService)
		secured.POST("/services", perm(access.AddService), dir.CreateService)
		secured.PUT("/services/:id", perm(access.EditService), dir.UpdateService)
		secured.DELETE("/services/:id", perm(access.DeleteService), dir.DeleteService)

		// Ownership checks for notifications happen in the handler.
		notifications := handlers.NewNotificationHandler(svc.Notifier, svc.Bus, svc.Listing, svc.Resolver, s.logger)
		secured.GET("/notifications/stream", notifications.Stream)
		secured.GET("/notifications/user/:id", notifications.List)
		secured.GET("/notifications/user/:id/unread", notifications.Unread)
		secured.GET("/notifications/user/:id/unread-count", notifications.UnreadCount)
		secured.PUT("/notifications/user/:id/read-all", notifications.MarkAllRead)
		secured.DELETE("/notifications/user/:id/read", notifications.DeleteRead)
		secured.POST("/notifications", perm(access.ManageUsers), notifications.Create)
		secured.PUT("/notifications/:id/read", notifications.MarkRead)
		secured.DELETE("/notifications/:id", notifications.Delete)

		dashboard := handlers.NewDashboardHandler(svc.Listing, svc.Resolver, s.logger)
		secured.GET("/dashboard/stats", perm(access.ViewReporting), dashboard.Stats)
	}

	s.router = r
}

func (s *Server) health(c *gin.Context) {
	if s.svc.Store != nil {
		if err := s.svc.Store.Ping(c.Request.Context()); err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start blocks serving HTTP until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
