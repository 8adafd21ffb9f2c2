// Package httpapi exposes the offline client to the local UI over HTTP.
package httpapi

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"onesmart/inventory/internal/domain"
	"onesmart/inventory/internal/logger"
	"onesmart/inventory/internal/service"
	"onesmart/inventory/internal/syncer"
)

const maxBodyBytes = 1 << 20

type API struct {
	service       *service.Service
	metrics       http.Handler
	allowedOrigin string
	logger        *zap.Logger
}

// New wires the UI routes. metrics may be nil to leave /metrics unmounted.
func New(svc *service.Service, metrics http.Handler, allowedOrigin string, log *zap.Logger) *API {
	if log == nil {
		log = zap.NewNop()
	}
	return &API{
		service:       svc,
		metrics:       metrics,
		allowedOrigin: allowedOrigin,
		logger:        log,
	}
}

func (a *API) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), logger.Gin(a.logger), a.middleware())

	router.GET("/healthz", a.handleHealth)
	if a.metrics != nil {
		router.GET("/metrics", gin.WrapH(a.metrics))
	}

	v1 := router.Group("/api/v1")
	for _, c := range domain.Collections {
		v1.GET("/"+string(c), a.handleList(c))
		v1.POST("/"+string(c), a.handleCreate(c))
	}
	v1.GET("/purchases/expiring", a.handleExpiring)
	v1.POST("/refresh", a.handleRefresh)
	v1.POST("/sync", a.handleSync)
	v1.GET("/sync/status", a.handleStatus)
	v1.GET("/local-data", a.handleSnapshot)
	v1.DELETE("/local-data", a.handleClearAll)
	v1.DELETE("/local-data/:collection", a.handleClearCollection)

	return router
}

func (a *API) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		if a.allowedOrigin != "" {
			h.Set("Access-Control-Allow-Origin", a.allowedOrigin)
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			h.Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
			h.Set("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
		}
		c.Next()
	}
}

func (a *API) handleHealth(c *gin.Context) {
	status, err := a.service.Status(c.Request.Context())
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":     true,
		"online": status.Online,
		"at":     time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleList(col domain.Collection) gin.HandlerFunc {
	return func(c *gin.Context) {
		records, err := a.service.List(c.Request.Context(), col)
		if err != nil {
			a.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, records)
	}
}

func (a *API) handleCreate(col domain.Collection) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			a.writeError(c, &domain.ValidationError{Field: "body", Message: err.Error()})
			return
		}
		record, err := a.service.Create(c.Request.Context(), col, body)
		if err != nil {
			a.writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, record)
	}
}

func (a *API) handleExpiring(c *gin.Context) {
	batches, err := a.service.ExpiringPurchases(c.Request.Context())
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, batches)
}

func (a *API) handleRefresh(c *gin.Context) {
	if err := a.service.RefreshAll(c.Request.Context()); err != nil {
		a.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) handleSync(c *gin.Context) {
	report, err := a.service.SyncNow(c.Request.Context())
	if err != nil && !errors.Is(err, syncer.ErrOffline) {
		a.writeError(c, err)
		return
	}
	status := http.StatusOK
	if errors.Is(err, syncer.ErrOffline) {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"report": report, "summary": report.Summary()})
}

func (a *API) handleStatus(c *gin.Context) {
	status, err := a.service.Status(c.Request.Context())
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (a *API) handleSnapshot(c *gin.Context) {
	snapshot, err := a.service.Snapshot(c.Request.Context())
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (a *API) handleClearAll(c *gin.Context) {
	if err := a.service.ClearAll(c.Request.Context()); err != nil {
		a.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) handleClearCollection(c *gin.Context) {
	if err := a.service.ClearCollection(c.Request.Context(), c.Param("collection")); err != nil {
		a.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func statusFor(err error) int {
	var srvErr *domain.ServerError
	switch {
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, syncer.ErrSyncInProgress):
		return http.StatusConflict
	case errors.Is(err, syncer.ErrOffline):
		return http.StatusServiceUnavailable
	case errors.As(err, &srvErr) && srvErr.Status >= 400 && srvErr.Status < 500:
		return srvErr.Status
	case domain.IsConnectivity(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError hides internal details of 5xx answers; everything else is
// meant for the person at the counter.
func (a *API) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		a.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
		msg = http.StatusText(status)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
