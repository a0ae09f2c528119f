package telegram

import (
	"context"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/numrelay/numrelay/internal/transport"
)

// PollSource consumes updates over long polling. Used when no webhook base
// URL is configured.
type PollSource struct {
	client      *Client
	pollTimeout int
	logger      *slog.Logger
}

// NewPollSource creates a long-poll source with the given poll timeout in seconds.
func NewPollSource(log *slog.Logger, client *Client, pollTimeout int) *PollSource {
	if log == nil {
		log = slog.Default()
	}
	if pollTimeout <= 0 {
		pollTimeout = 30
	}
	return &PollSource{
		client:      client,
		pollTimeout: pollTimeout,
		logger:      log.With(slog.String("component", "telegram_poll")),
	}
}

// Run blocks consuming the update channel until ctx is cancelled.
func (s *PollSource) Run(ctx context.Context, h transport.Handler) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = s.pollTimeout
	updates := s.client.bot.GetUpdatesChan(cfg)
	s.logger.Info("polling started", slog.String("bot", s.client.Username()))

	for {
		select {
		case <-ctx.Done():
			s.client.bot.StopReceivingUpdates()
			s.logger.Info("polling stopped")
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				s.logger.Info("updates channel closed")
				return nil
			}
			DispatchUpdate(ctx, h, update)
		}
	}
}

// CheckRegistration removes a stale webhook registration, which would
// otherwise block long polling.
func (s *PollSource) CheckRegistration(ctx context.Context) error {
	info, err := s.client.bot.GetWebhookInfo()
	if err != nil {
		return err
	}
	if info.URL == "" {
		return nil
	}
	s.logger.Warn("stale webhook registration found, removing", slog.String("url", info.URL))
	_, err = s.client.bot.Request(tgbotapi.DeleteWebhookConfig{})
	return err
}

// DispatchUpdate maps one Bot API update onto the Handler. Shared between the
// poll and webhook sources.
func DispatchUpdate(ctx context.Context, h transport.Handler, update tgbotapi.Update) {
	if cq := update.CallbackQuery; cq != nil {
		press := transport.ButtonPress{
			CallbackID: cq.ID,
			Token:      cq.Data,
			At:         time.Now().UTC(),
		}
		if cq.From != nil {
			press.Principal = transport.Principal{
				ID:        cq.From.ID,
				Username:  cq.From.UserName,
				FirstName: cq.From.FirstName,
			}
		}
		if cq.Message != nil && cq.Message.Chat != nil {
			press.ChatID = cq.Message.Chat.ID
			press.MessageID = cq.Message.MessageID
		}
		h.HandleButtonPress(ctx, press)
		return
	}

	msg, edited := pickMessage(update)
	if msg == nil || msg.Chat == nil {
		return
	}
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	h.HandlePost(ctx, transport.Post{
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		Text:      text,
		Edited:    edited,
		At:        time.Unix(int64(msg.Date), 0).UTC(),
	})
}

func pickMessage(update tgbotapi.Update) (*tgbotapi.Message, bool) {
	switch {
	case update.ChannelPost != nil:
		return update.ChannelPost, false
	case update.EditedChannelPost != nil:
		return update.EditedChannelPost, true
	case update.Message != nil:
		return update.Message, false
	case update.EditedMessage != nil:
		return update.EditedMessage, true
	}
	return nil, false
}
