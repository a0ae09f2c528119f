package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/numrelay/numrelay/internal/dedup"
	"github.com/numrelay/numrelay/internal/relay"
)

// BindingsHandler manages relay bindings via REST API.
type BindingsHandler struct {
	service *relay.Service
	logger  *slog.Logger
}

// NewBindingsHandler creates a BindingsHandler.
func NewBindingsHandler(log *slog.Logger, service *relay.Service) *BindingsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &BindingsHandler{
		service: service,
		logger:  log.With(slog.String("handler", "bindings")),
	}
}

// Register registers binding routes.
func (h *BindingsHandler) Register(e *echo.Echo) {
	e.POST("/bindings", h.Create)
	e.GET("/bindings", h.List)
	e.PATCH("/bindings/:id", h.Update)
	e.DELETE("/bindings/:id", h.Remove)
	e.GET("/bindings/:id/status", h.Status)
	e.GET("/sources/:id/confirmed", h.Confirmed)
}

type bindingRequest struct {
	Source string `json:"source,omitempty"`
	Target string `json:"target,omitempty"`
	Owner  string `json:"owner,omitempty"`
}

// Create registers a new source -> target binding after validating both channels.
func (h *BindingsHandler) Create(c echo.Context) error {
	var req bindingRequest
	if err := c.Bind(&req); err != nil && !errors.Is(err, io.EOF) {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: err.Error()})
	}
	if strings.TrimSpace(req.Source) == "" || strings.TrimSpace(req.Target) == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "source and target are required"})
	}

	binding, err := h.service.CreateBinding(c.Request().Context(), req.Source, req.Target, req.Owner)
	if err != nil {
		return h.bindingError(c, err)
	}
	return c.JSON(http.StatusCreated, binding)
}

// List returns all configured bindings.
func (h *BindingsHandler) List(c echo.Context) error {
	bindings, err := h.service.ListBindings(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Message: err.Error()})
	}
	if bindings == nil {
		bindings = []relay.ChannelBinding{}
	}
	return c.JSON(http.StatusOK, bindings)
}

// Update repoints a binding's source and/or target. Empty fields keep the
// current value.
func (h *BindingsHandler) Update(c echo.Context) error {
	var req bindingRequest
	if err := c.Bind(&req); err != nil && !errors.Is(err, io.EOF) {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: err.Error()})
	}

	binding, err := h.service.UpdateBinding(c.Request().Context(), c.Param("id"), req.Source, req.Target)
	if err != nil {
		return h.bindingError(c, err)
	}
	return c.JSON(http.StatusOK, binding)
}

// Remove tears a binding down.
func (h *BindingsHandler) Remove(c echo.Context) error {
	if err := h.service.RemoveBinding(c.Request().Context(), c.Param("id")); err != nil {
		return h.bindingError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Status returns the binding's accumulated counters.
func (h *BindingsHandler) Status(c echo.Context) error {
	status, err := h.service.BindingStatus(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.bindingError(c, err)
	}
	return c.JSON(http.StatusOK, status)
}

// Confirmed lists the confirmed filter entries for a source channel,
// newest first. Accepts an optional limit query parameter.
func (h *BindingsHandler) Confirmed(c echo.Context) error {
	sourceID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "source id must be numeric"})
	}
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "limit must be a non-negative integer"})
		}
	}

	records, err := h.service.ListConfirmedItems(c.Request().Context(), sourceID, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Message: err.Error()})
	}
	if records == nil {
		records = []dedup.Record{}
	}
	return c.JSON(http.StatusOK, records)
}

func (h *BindingsHandler) bindingError(c echo.Context, err error) error {
	var verr *relay.ValidationError
	if errors.As(err, &verr) {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: verr.Reason,
			Field:   verr.Field,
			Hint:    verr.Hint,
		})
	}
	if errors.Is(err, relay.ErrBindingNotFound) {
		return c.JSON(http.StatusNotFound, ErrorResponse{Message: "binding not found"})
	}
	h.logger.Error("binding operation failed", slog.Any("error", err))
	return c.JSON(http.StatusInternalServerError, ErrorResponse{Message: err.Error()})
}
