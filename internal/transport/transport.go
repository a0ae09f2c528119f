// Package transport defines the narrow bot-platform surface the relay core
// depends on: an outbound client and an inbound event source. Implementations
// live in subpackages (telegram long-poll and webhook).
package transport

import (
	"context"
	"time"
)

// Controls describes the single interactive button attached to a forwarded
// message. Token round-trips through the platform's callback payload.
type Controls struct {
	Label string
	Token string
}

// Principal identifies the platform user who pressed a button.
type Principal struct {
	ID        int64
	Username  string
	FirstName string
}

// DisplayName returns the username when set, the first name otherwise.
func (p Principal) DisplayName() string {
	if p.Username != "" {
		return p.Username
	}
	return p.FirstName
}

// Post is a new or edited channel post.
type Post struct {
	ChatID    int64
	MessageID int
	Text      string
	Edited    bool
	At        time.Time
}

// ButtonPress is an interactive-control press carrying the confirmation token.
type ButtonPress struct {
	CallbackID string
	Token      string
	ChatID     int64
	MessageID  int
	Principal  Principal
	At         time.Time
}

// Handler consumes inbound events. Implementations must tolerate concurrent
// calls; serialization per binding happens downstream.
type Handler interface {
	HandlePost(ctx context.Context, post Post)
	HandleButtonPress(ctx context.Context, press ButtonPress)
}

// ChatInfo describes a chat the bot can see.
type ChatInfo struct {
	ID    int64
	Title string
	Type  string
}

// Membership describes the bot's own standing in a chat.
type Membership struct {
	Status          string
	CanPostMessages bool
}

// IsAdmin reports whether the membership grants administrative rights.
func (m Membership) IsAdmin() bool {
	return m.Status == "administrator" || m.Status == "creator"
}

// Client is the outbound bot-platform surface. All calls are bounded by the
// implementation's request timeout; none retries a message send.
type Client interface {
	// SendMessage delivers text verbatim to chatID, optionally attaching an
	// interactive control, and returns the platform message ID.
	SendMessage(ctx context.Context, chatID int64, text string, controls *Controls) (int, error)
	// EditMessageControls swaps the interactive control on an already sent message.
	EditMessageControls(ctx context.Context, chatID int64, messageID int, controls Controls) error
	// DeleteMessage removes a message; safe to retry.
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	// AnswerButtonPress acknowledges a press to the pressing user.
	AnswerButtonPress(ctx context.Context, callbackID, text string, alert bool) error
	// ResolveChat looks up a chat by numeric ID or @name reference.
	ResolveChat(ctx context.Context, ref string) (ChatInfo, error)
	// GetMembership returns the bot's own membership in chatID.
	GetMembership(ctx context.Context, chatID int64) (Membership, error)
	// Probe performs a cheap reachability check against the platform.
	Probe(ctx context.Context) error
}

// Source delivers inbound events until ctx is cancelled.
type Source interface {
	// Run blocks, dispatching events to h. Returns when ctx is done or the
	// stream fails irrecoverably.
	Run(ctx context.Context, h Handler) error
	// CheckRegistration verifies the inbound delivery registration still
	// matches the expected configuration and re-registers it if drifted.
	CheckRegistration(ctx context.Context) error
}
