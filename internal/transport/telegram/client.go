// Package telegram implements the transport interfaces against the Telegram
// Bot API, with a long-poll source and a webhook source behind one interface.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/numrelay/numrelay/internal/transport"
)

const deleteRetries = 2

// Client wraps the Bot API with bounded timeouts and a send rate limiter.
type Client struct {
	bot     *tgbotapi.BotAPI
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient connects to the Bot API with the given token and request timeout.
func NewClient(log *slog.Logger, token string, requestTimeout time.Duration) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	if requestTimeout <= 0 {
		requestTimeout = 15 * time.Second
	}
	httpClient := &http.Client{Timeout: requestTimeout}
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, httpClient)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &Client{
		bot: bot,
		// Telegram allows ~30 messages/second overall.
		limiter: rate.NewLimiter(rate.Limit(25), 5),
		logger:  log.With(slog.String("component", "telegram")),
	}, nil
}

// Username returns the authenticated bot account name.
func (c *Client) Username() string {
	return c.bot.Self.UserName
}

// SendMessage delivers text verbatim, never retrying on failure.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, controls *transport.Controls) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if controls != nil {
		msg.ReplyMarkup = controlMarkup(*controls)
	}
	sent, err := c.bot.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("send message: %w", err)
	}
	return sent.MessageID, nil
}

// EditMessageControls swaps the inline button on a sent message.
func (c *Client) EditMessageControls(ctx context.Context, chatID int64, messageID int, controls transport.Controls) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, messageID, controlMarkup(controls))
	if _, err := c.bot.Request(edit); err != nil {
		return fmt.Errorf("edit message controls: %w", err)
	}
	return nil
}

// DeleteMessage removes a message, retrying a bounded number of times since
// deletion is idempotent.
func (c *Client) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	var lastErr error
	for attempt := 0; attempt <= deleteRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		if _, err := c.bot.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("delete message: %w", lastErr)
}

// AnswerButtonPress acknowledges a callback query to the pressing user.
func (c *Client) AnswerButtonPress(ctx context.Context, callbackID, text string, alert bool) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	callback := tgbotapi.NewCallback(callbackID, text)
	callback.ShowAlert = alert
	if _, err := c.bot.Request(callback); err != nil {
		return fmt.Errorf("answer callback: %w", err)
	}
	return nil
}

// ResolveChat accepts a numeric chat ID (e.g. -1001234567890) or an @name.
func (c *Client) ResolveChat(ctx context.Context, ref string) (transport.ChatInfo, error) {
	ref = strings.TrimSpace(ref)
	cfg := tgbotapi.ChatInfoConfig{}
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		cfg.ChatConfig = tgbotapi.ChatConfig{ChatID: id}
	} else if strings.HasPrefix(ref, "@") {
		cfg.ChatConfig = tgbotapi.ChatConfig{SuperGroupUsername: ref}
	} else {
		return transport.ChatInfo{}, fmt.Errorf("unrecognized chat reference: %s", ref)
	}
	chat, err := c.bot.GetChat(cfg)
	if err != nil {
		return transport.ChatInfo{}, fmt.Errorf("get chat %s: %w", ref, err)
	}
	return transport.ChatInfo{ID: chat.ID, Title: chat.Title, Type: chat.Type}, nil
}

// GetMembership returns the bot's own membership in chatID.
func (c *Client) GetMembership(ctx context.Context, chatID int64) (transport.Membership, error) {
	member, err := c.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
			ChatID: chatID,
			UserID: c.bot.Self.ID,
		},
	})
	if err != nil {
		return transport.Membership{}, fmt.Errorf("get chat member: %w", err)
	}
	canPost := member.Status == "creator"
	if member.Status == "administrator" {
		canPost = member.CanPostMessages || member.CanSendMessages
	}
	return transport.Membership{Status: member.Status, CanPostMessages: canPost}, nil
}

// Probe calls getMe as a cheap reachability check.
func (c *Client) Probe(ctx context.Context) error {
	if _, err := c.bot.GetMe(); err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	return nil
}

func controlMarkup(controls transport.Controls) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(controls.Label, controls.Token),
		),
	)
}
