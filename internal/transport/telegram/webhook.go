package telegram

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/labstack/echo/v4"

	"github.com/numrelay/numrelay/internal/transport"
)

// WebhookSource receives updates pushed by the platform to an HTTP endpoint.
// It doubles as a server handler so the route mounts on the shared Echo
// instance; Run only registers the endpoint and waits for cancellation.
type WebhookSource struct {
	client  *Client
	baseURL string
	path    string
	logger  *slog.Logger

	mu      sync.RWMutex
	handler transport.Handler
	runCtx  context.Context
}

// NewWebhookSource creates a webhook source. The endpoint path embeds the bot
// token so only the platform can guess it.
func NewWebhookSource(log *slog.Logger, client *Client, baseURL, token string) *WebhookSource {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookSource{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		path:    "/webhook/" + token,
		logger:  log.With(slog.String("component", "telegram_webhook")),
	}
}

// URL returns the full externally visible webhook URL.
func (s *WebhookSource) URL() string {
	return s.baseURL + s.path
}

// Register mounts the webhook route on the Echo instance.
func (s *WebhookSource) Register(e *echo.Echo) {
	e.POST(s.path, s.receive)
}

// Run registers the webhook with the platform and blocks until ctx is done.
func (s *WebhookSource) Run(ctx context.Context, h transport.Handler) error {
	s.mu.Lock()
	s.handler = h
	s.runCtx = ctx
	s.mu.Unlock()

	if err := s.register(); err != nil {
		return err
	}
	s.logger.Info("webhook registered", slog.String("url", s.URL()))
	<-ctx.Done()
	return ctx.Err()
}

// CheckRegistration re-registers the webhook if the platform-side URL drifted.
func (s *WebhookSource) CheckRegistration(ctx context.Context) error {
	info, err := s.client.bot.GetWebhookInfo()
	if err != nil {
		return err
	}
	if info.URL == s.URL() {
		return nil
	}
	s.logger.Warn("webhook drifted, re-registering",
		slog.String("expected", s.URL()),
		slog.String("actual", info.URL),
	)
	return s.register()
}

func (s *WebhookSource) register() error {
	wh, err := tgbotapi.NewWebhook(s.URL())
	if err != nil {
		return err
	}
	if _, err := s.client.bot.Request(wh); err != nil {
		return err
	}
	return nil
}

func (s *WebhookSource) receive(c echo.Context) error {
	s.mu.RLock()
	handler := s.handler
	ctx := s.runCtx
	s.mu.RUnlock()
	if handler == nil || ctx == nil || ctx.Err() != nil {
		return c.NoContent(http.StatusServiceUnavailable)
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}
	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		s.logger.Warn("malformed update", slog.Any("error", err))
		return c.NoContent(http.StatusBadRequest)
	}

	// Ack immediately; processing failures must not trigger platform retries
	// for events the pipeline already decided to skip.
	DispatchUpdate(ctx, handler, update)
	return c.NoContent(http.StatusOK)
}
