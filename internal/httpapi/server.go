package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/classbook/pkg/booking"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	headerRequestID    = "X-Request-ID"
	contextKeyRequest  = "request_id"
	shutdownGracePause = 5 * time.Second
)

// BookingEngine performs booking mutations.
type BookingEngine interface {
	Book(ctx context.Context, lessonID booking.LessonID, openID booking.OpenID) (booking.BookingOutcome, error)
	Cancel(ctx context.Context, bookingID booking.BookingID, openID booking.OpenID) (booking.CancelOutcome, error)
}

// LessonQuery lists lessons for a viewer.
type LessonQuery interface {
	ListLessonsWithBookingStatus(ctx context.Context, windowStartUnixUTC int64, openID booking.OpenID) ([]booking.LessonView, error)
}

// UserDirectory registers users and reports their booking statistics.
type UserDirectory interface {
	RegisterUser(ctx context.Context, openID booking.OpenID, profile booking.UserProfile) (booking.UserID, error)
	UserStatistics(ctx context.Context, openID booking.OpenID) (booking.UserStatistics, error)
}

// MembershipDesk sells membership cards and reports their usage.
type MembershipDesk interface {
	ListPlans(ctx context.Context) ([]booking.Plan, error)
	Purchase(ctx context.Context, openID booking.OpenID, planID booking.PlanID, paidAmount *booking.AmountCents) (booking.PurchaseOutcome, error)
	ListCards(ctx context.Context, openID booking.OpenID) ([]booking.Card, error)
	ListUsage(ctx context.Context, openID booking.OpenID, cardID *booking.CardID) ([]booking.UsageRecord, error)
}

// Services bundles the domain services the HTTP API fronts.
type Services struct {
	Engine     BookingEngine
	Query      LessonQuery
	Users      UserDirectory
	Membership MembershipDesk
}

func (services Services) validate() error {
	if services.Engine == nil || services.Query == nil || services.Users == nil || services.Membership == nil {
		return errors.New("httpapi: every service is required")
	}
	return nil
}

// Run serves the HTTP API until ctx is cancelled.
func Run(ctx context.Context, cfg Config, services Services, logger *zap.Logger) error {
	router, err := NewRouter(cfg, services, logger)
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePause)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// NewRouter validates cfg and wires every route onto a gin engine.
func NewRouter(cfg Config, services Services, logger *zap.Logger) (*gin.Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("httpapi config: %w", err)
	}
	if err := services.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	handler := &httpHandler{
		logger:   logger,
		services: services,
		cfg:      cfg,
		nowFn:    func() int64 { return time.Now().UTC().Unix() },
	}
	limiter := newRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("httpapi trusted proxies: %w", err)
	}
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", headerRequestID},
		ExposeHeaders:    []string{headerRequestID},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.POST("/bookings", limiter.middleware(), handler.handleBook)
	api.POST("/bookings/cancel", limiter.middleware(), handler.handleCancel)
	api.GET("/lessons", handler.handleListLessons)
	api.POST("/users", handler.handleRegisterUser)
	api.GET("/users/statistics", handler.handleUserStatistics)

	membership := api.Group("/membership")
	membership.GET("/plans", handler.handleListPlans)
	membership.GET("/cards", handler.handleListCards)
	membership.POST("/purchase", limiter.middleware(), handler.handlePurchase)
	membership.GET("/usage", handler.handleListUsage)

	return router, nil
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		requestID := ctx.GetHeader(headerRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx.Set(contextKeyRequest, requestID)
		ctx.Header(headerRequestID, requestID)
		ctx.Next()
	}
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
