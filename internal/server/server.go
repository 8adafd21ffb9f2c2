// Package server is the reference inventory server: the REST contract the
// offline client syncs against, with stock kept FIFO on the server side.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"onesmart/inventory/internal/domain"
	"onesmart/inventory/internal/logger"
	"onesmart/inventory/internal/store"
)

const (
	defaultExpiryWindow = 30 * 24 * time.Hour
	maxBodyBytes        = 1 << 20
	subjectKey          = "subject"
)

type Options struct {
	Repository store.Repository
	// Auth enables bearer token checks on every /api route except health.
	Auth          *Authenticator
	AllowedOrigin string
	ExpiryWindow  time.Duration
	Logger        *zap.Logger
}

type API struct {
	repo          store.Repository
	auth          *Authenticator
	allowedOrigin string
	expiryWindow  time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

func New(opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ExpiryWindow <= 0 {
		opts.ExpiryWindow = defaultExpiryWindow
	}
	return &API{
		repo:          opts.Repository,
		auth:          opts.Auth,
		allowedOrigin: opts.AllowedOrigin,
		expiryWindow:  opts.ExpiryWindow,
		logger:        opts.Logger,
		now:           time.Now,
	}
}

func (a *API) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), logger.Gin(a.logger), a.middleware())

	api := router.Group("/api")
	api.GET("/health", a.handleHealth)

	protected := api.Group("", a.requireAuth())
	protected.GET("/products", list(a, a.repo.ListProducts))
	protected.POST("/products", create[domain.Product](a, a.repo.CreateProduct))
	protected.GET("/purchases", list(a, a.repo.ListPurchases))
	protected.GET("/purchases/expiring", a.handleExpiring)
	protected.POST("/purchases", create[domain.PurchaseBatch](a, a.repo.CreatePurchase))
	protected.GET("/bills", list(a, a.repo.ListBills))
	protected.POST("/bills", create[domain.Bill](a, a.repo.CreateBill))
	protected.GET("/returns", list(a, a.repo.ListReturns))
	protected.POST("/returns", create[domain.Return](a, a.repo.CreateReturn))

	return router
}

func (a *API) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		if a.allowedOrigin != "" {
			h.Set("Access-Control-Allow-Origin", a.allowedOrigin)
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			h.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			h.Set("Vary", "Origin")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		if c.Request.Method == http.MethodPost {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
		}
		c.Next()
	}
}

func (a *API) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.auth == nil {
			c.Next()
			return
		}

		authorization := strings.TrimSpace(c.GetHeader("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			a.writeError(c, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		subject, err := a.auth.ParseToken(strings.TrimSpace(authorization[len("Bearer "):]))
		if err != nil {
			a.writeError(c, http.StatusUnauthorized, err)
			return
		}
		c.Set(subjectKey, subject)
		c.Next()
	}
}

func (a *API) handleHealth(c *gin.Context) {
	if err := a.repo.Ping(c.Request.Context()); err != nil {
		a.writeError(c, http.StatusServiceUnavailable, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok": true,
		"at": a.now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleExpiring(c *gin.Context) {
	from := a.now().UTC()
	batches, err := a.repo.ListExpiringPurchases(c.Request.Context(), from, from.Add(a.expiryWindow))
	if err != nil {
		a.writeError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, batches)
}

func list[T any](a *API, fetch func(ctx context.Context) ([]T, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		records, err := fetch(c.Request.Context())
		if err != nil {
			a.writeError(c, http.StatusInternalServerError, err)
			return
		}
		c.JSON(http.StatusOK, records)
	}
}

// create decodes and validates a draft before handing it to save, so the
// repository only ever sees well-formed records.
func create[T any, P interface {
	*T
	domain.Record
}](a *API, save func(ctx context.Context, draft T) (*T, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		var draft T
		if err := decodeJSON(c.Request, &draft); err != nil {
			a.writeError(c, http.StatusBadRequest, err)
			return
		}
		if err := P(&draft).Validate(); err != nil {
			a.writeError(c, http.StatusBadRequest, err)
			return
		}

		created, err := save(c.Request.Context(), draft)
		if err != nil {
			a.writeError(c, statusFor(err), err)
			return
		}
		if subject, ok := c.Get(subjectKey); ok {
			a.logger.Debug("record created",
				zap.String("collection", string(P(created).Collection())),
				zap.String("id", P(created).Metadata().ID),
				zap.Any("subject", subject))
		}
		c.JSON(http.StatusCreated, created)
	}
}

func statusFor(err error) int {
	switch {
	case domain.IsValidation(err), errors.Is(err, store.ErrInvalidRecord):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInsufficientStock), errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

// writeError hides 5xx details from callers; 4xx messages are user-facing.
func (a *API) writeError(c *gin.Context, status int, err error) {
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
		msg = http.StatusText(status)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
