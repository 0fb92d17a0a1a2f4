package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/tadamon-org/backend/internal/config"
	"github.com/tadamon-org/backend/internal/csrf"
	"github.com/tadamon-org/backend/internal/db"
	"github.com/tadamon-org/backend/internal/handler"
	"github.com/tadamon-org/backend/internal/model"
	"github.com/tadamon-org/backend/internal/password"
	"github.com/tadamon-org/backend/internal/ratelimit"
	"github.com/tadamon-org/backend/internal/service"
	"github.com/tadamon-org/backend/internal/token"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("[Main] No .env file loaded: %v", err)
	}

	cfg := config.Load()
	clock := clockwork.NewRealClock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx)
	if err != nil {
		log.Fatalf("[Main] Postgres init failed: %v", err)
	}
	defer pool.Close()

	store := &db.Postgres{Pool: pool}
	if err := store.EnsureAuthSchema(ctx); err != nil {
		log.Fatalf("[Main] Schema init failed: %v", err)
	}

	tokens, err := token.New(cfg.Auth, clock)
	if err != nil {
		log.Fatalf("[Main] Token service init failed: %v", err)
	}

	passwords, err := password.New(cfg.Auth)
	if err != nil {
		log.Fatalf("[Main] Password service init failed: %v", err)
	}

	authService, err := service.NewAuthService(store, tokens, passwords, cfg.Auth, clock)
	if err != nil {
		log.Fatalf("[Main] Auth service init failed: %v", err)
	}

	if cfg.Auth.AdminEmail != "" {
		if err := authService.EnsureAdmin(ctx, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword); err != nil {
			log.Fatalf("[Main] Admin seed failed: %v", err)
		}
	}

	limiter, err := ratelimit.New(cfg.RateLimit, clock)
	if err != nil {
		log.Fatalf("[Main] Rate limiter init failed: %v", err)
	}
	limiter.StartSweep(ctx, 0)

	csrfStore := csrf.NewStore(clock)
	csrfStore.StartSweep(ctx)

	authHandler, err := handler.NewAuthHandler(authService, tokens, csrfStore, limiter, cfg.Auth)
	if err != nil {
		log.Fatalf("[Main] Auth handler init failed: %v", err)
	}

	router := gin.Default()
	router.Use(handler.SecurityHeaders())
	router.Use(handler.CORSMiddleware([]string{cfg.Server.PublicSiteURL}, true))

	router.GET("/healthz", handler.Healthz)

	auth := router.Group("/api/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/logout", authHandler.Logout)
		auth.POST("/refresh", authHandler.Refresh)
		auth.GET("/csrf", authHandler.IssueCSRF)
		auth.POST("/csrf", authHandler.ValidateCSRF)
		auth.POST("/password-reset", authHandler.RequestPasswordReset)
		auth.POST("/password-reset/confirm", authHandler.ConfirmPasswordReset)
		auth.GET("/me", handler.AuthMiddleware(tokens), authHandler.Me)
	}

	events := router.Group("/api/events", handler.AuthMiddleware(tokens))
	{
		events.POST("/:id/check-in", handler.RequireRole(model.RoleAdmin, model.RoleEditor), handler.CheckIn)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		<-sigs
		log.Printf("[Main] Shutting down")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[Main] Shutdown error: %v", err)
		}
	}()

	log.Printf("[Main] Listening on :%s", cfg.Server.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("[Main] Server error: %v", err)
	}
}
