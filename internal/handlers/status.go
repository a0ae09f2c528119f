package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/numrelay/numrelay/internal/dedup"
	"github.com/numrelay/numrelay/internal/liveness"
	"github.com/numrelay/numrelay/internal/relay"
	"github.com/numrelay/numrelay/internal/version"
)

// StatusHandler serves the daemon-level status summary.
type StatusHandler struct {
	relay     *relay.Service
	dedup     *dedup.Store
	status    *liveness.StatusStore
	startedAt time.Time
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler. startedAt anchors the uptime.
func NewStatusHandler(log *slog.Logger, relayService *relay.Service, dedupStore *dedup.Store, statusStore *liveness.StatusStore) *StatusHandler {
	if log == nil {
		log = slog.Default()
	}
	return &StatusHandler{
		relay:     relayService,
		dedup:     dedupStore,
		status:    statusStore,
		startedAt: time.Now(),
		logger:    log.With(slog.String("handler", "status")),
	}
}

// Register mounts GET /status.
func (h *StatusHandler) Register(e *echo.Echo) {
	e.GET("/status", h.Status)
}

type statusResponse struct {
	Version       string     `json:"version"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	Bindings      int        `json:"bindings"`
	FilterSize    int64      `json:"filter_size"`
	StopCount     int64      `json:"stop_count"`
	LastStartedAt *time.Time `json:"last_started_at,omitempty"`
	LastStoppedAt *time.Time `json:"last_stopped_at,omitempty"`
}

// Status reports uptime, binding count, filter size and the start/stop ledger.
func (h *StatusHandler) Status(c echo.Context) error {
	ctx := c.Request().Context()

	filterSize, err := h.dedup.Count(ctx)
	if err != nil {
		h.logger.Error("filter count failed", slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Message: err.Error()})
	}
	ledger, err := h.status.Load(ctx)
	if err != nil {
		h.logger.Error("status ledger load failed", slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Message: err.Error()})
	}

	return c.JSON(http.StatusOK, statusResponse{
		Version:       version.Version,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		Bindings:      h.relay.BindingCount(),
		FilterSize:    filterSize,
		StopCount:     ledger.StopCount,
		LastStartedAt: ledger.LastStartedAt,
		LastStoppedAt: ledger.LastStoppedAt,
	})
}
