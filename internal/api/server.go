// Package api serves persisted scan results as read-only JSON.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/CodeMonkeyCybersecurity/surface/internal/config"
	"github.com/CodeMonkeyCybersecurity/surface/internal/core"
	"github.com/CodeMonkeyCybersecurity/surface/internal/logger"
	"github.com/CodeMonkeyCybersecurity/surface/pkg/types"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
	queryTimeout    = 5 * time.Second
)

// NewRouter builds the gin engine with every route and middleware.
func NewRouter(cfg config.APIConfig, store core.ResultStore, log *logger.Logger) *gin.Engine {
	log = log.WithComponent("api")

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggingMiddleware(log))
	router.Use(CORSMiddleware())
	router.Use(RateLimitMiddleware(cfg))
	if cfg.APIKey != "" {
		router.Use(AuthMiddleware(cfg.APIKey, log))
	}

	h := &handlers{store: store, logger: log}
	router.GET("/health", h.health)

	runs := router.Group("/api/runs")
	runs.GET("", h.listRuns)
	runs.GET("/:id", h.getRun)
	runs.GET("/:id/risks", h.getRisks)
	runs.GET("/:id/artifacts/:kind", h.getArtifact)

	return router
}

type handlers struct {
	store  core.ResultStore
	logger *logger.Logger
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) listRuns(c *gin.Context) {
	limit, err := intQuery(c, "limit", defaultPageSize)
	if err != nil || limit < 1 || limit > maxPageSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
		return
	}
	offset, err := intQuery(c, "offset", 0)
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be a non-negative integer"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	runs, err := h.store.ListRuns(ctx, core.RunFilter{
		Domain: c.Query("domain"),
		Status: types.RunStatus(c.Query("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "limit": limit, "offset": offset})
}

func (h *handlers) getRun(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	run, err := h.store.GetRun(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *handlers) getRisks(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	records, err := h.store.GetRiskRecords(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": c.Param("id"), "risk_scores": records})
}

func (h *handlers) getArtifact(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	data, err := h.store.GetArtifact(ctx, c.Param("id"), c.Param("kind"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

func (h *handlers) fail(c *gin.Context, err error) {
	if errors.Is(err, core.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	h.logger.Errorw("Store query failed", "path", c.Request.URL.Path, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func intQuery(c *gin.Context, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

// Serve runs the API until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, cfg config.APIConfig, store core.ResultStore, log *logger.Logger) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(cfg, store, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infow("Results API listening", "addr", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Infow("Shutting down results API")
	return srv.Shutdown(shutdownCtx)
}
