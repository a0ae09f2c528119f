// Package relay owns the per-pair relay pipeline: source filtering,
// classification, content and transport deduplication, forwarding with an
// unconfirmed control, and the binding registry exposed to operators.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/numrelay/numrelay/internal/classify"
	"github.com/numrelay/numrelay/internal/confirm"
	"github.com/numrelay/numrelay/internal/dedup"
	"github.com/numrelay/numrelay/internal/transport"
)

// Supplementary marker messages sent after a variant-accessed forward.
const (
	codeReadyText     = "📢 الكود جاهز"
	codeReadyEditText = "📢 الكود جاهز (تعديل)"
)

const snapshotLen = 500

// Binding relays matching posts from its source channel to its target.
// Events addressed to other sources are ignored. Event handling for one
// binding is serialized; distinct bindings run concurrently.
type Binding struct {
	cfg        ChannelBinding
	classifier *classify.Classifier
	dedup      *dedup.Store
	confirms   *confirm.Service
	client     transport.Client
	store      *Store
	logger     *slog.Logger

	mu     sync.Mutex
	recent *RecentSet
}

// NewBinding constructs the runtime pipeline for one stored binding.
func NewBinding(log *slog.Logger, cfg ChannelBinding, classifier *classify.Classifier, dedupStore *dedup.Store, confirms *confirm.Service, client transport.Client, store *Store, recentCap int) *Binding {
	if log == nil {
		log = slog.Default()
	}
	return &Binding{
		cfg:        cfg,
		classifier: classifier,
		dedup:      dedupStore,
		confirms:   confirms,
		client:     client,
		store:      store,
		logger: log.With(
			slog.String("component", "binding"),
			slog.String("binding_id", cfg.ID),
			slog.Int64("source_id", cfg.SourceID),
		),
		recent: NewRecentSet(recentCap),
	}
}

// Config returns the binding's stored configuration.
func (b *Binding) Config() ChannelBinding {
	return b.cfg
}

// HandlePost runs the relay pipeline for one inbound post. A non-match or a
// suppressed duplicate is a normal no-op, not an error; failures after the
// forward succeeded are logged and never lose the pending registration.
func (b *Binding) HandlePost(ctx context.Context, post transport.Post) {
	if post.ChatID != b.cfg.SourceID {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if post.Text == "" {
		b.logger.Debug("post without text", slog.Int("message_id", post.MessageID))
		return
	}

	matched, variant := b.classifier.Classify(post.Text)
	if !matched {
		return
	}

	identity := b.classifier.Normalize(post.Text)
	confirmed, err := b.dedup.IsConfirmed(ctx, b.cfg.SourceID, identity)
	if err != nil {
		b.logger.Error("dedup lookup failed", slog.Any("error", err))
		return
	}
	if confirmed {
		b.logger.Info("suppressed by filter",
			slog.Int("message_id", post.MessageID),
			slog.Bool("edited", post.Edited),
		)
		return
	}

	recentKey := transportKey(b.cfg.SourceID, post.MessageID, post.Edited)
	if b.recent.Contains(recentKey) {
		b.logger.Debug("duplicate transport event", slog.String("key", recentKey))
		return
	}

	token := confirm.MintToken()
	targetMessageID, err := b.client.SendMessage(ctx, b.cfg.TargetID, post.Text, &transport.Controls{
		Label: confirm.UnconfirmedLabel,
		Token: token,
	})
	if err != nil {
		// Forward is never retried; a flaky network must not produce duplicates.
		b.logger.Error("forward failed", slog.Int("message_id", post.MessageID), slog.Any("error", err))
		return
	}

	if err := b.confirms.Register(ctx, confirm.Pending{
		Token:           token,
		BindingID:       b.cfg.ID,
		SourceID:        b.cfg.SourceID,
		TargetID:        b.cfg.TargetID,
		SourceMessageID: post.MessageID,
		TargetMessageID: targetMessageID,
		Identity:        identity,
		FullText:        truncate(post.Text, snapshotLen),
		IsEdit:          post.Edited,
	}); err != nil {
		b.logger.Error("register pending confirmation failed",
			slog.String("token", token),
			slog.Any("error", err),
		)
	}

	if variant == classify.VariantAccessed {
		text := codeReadyText
		if post.Edited {
			text = codeReadyEditText
		}
		if _, err := b.client.SendMessage(ctx, b.cfg.TargetID, text, nil); err != nil {
			b.logger.Error("supplementary message failed", slog.Any("error", err))
		}
	}

	b.recent.Add(recentKey)

	kind := ActivityForwarded
	if post.Edited {
		kind = ActivityForwardedEdit
	}
	if err := b.store.AppendActivity(ctx, b.cfg.ID, kind, string(variant), post.MessageID, truncate(post.Text, snapshotLen)); err != nil {
		b.logger.Error("append activity failed", slog.Any("error", err))
	}

	b.logger.Info("forwarded",
		slog.Int("message_id", post.MessageID),
		slog.Int("target_message_id", targetMessageID),
		slog.String("variant", string(variant)),
		slog.Bool("edited", post.Edited),
	)
}

// PruneRecent trims the recent set down to its cap; called by the monitor.
func (b *Binding) PruneRecent(keep int) {
	b.mu.Lock()
	b.recent.Prune(keep)
	b.mu.Unlock()
}

// RecentLen reports the recent-set size; used by the monitor and tests.
func (b *Binding) RecentLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.recent.Len()
}

// transportKey builds the recent-set key for one transport event. Edits carry
// a suffix so an edit and its original post are tracked independently.
func transportKey(sourceID int64, messageID int, edited bool) string {
	key := fmt.Sprintf("%d_%d", sourceID, messageID)
	if edited {
		key += "_edited"
	}
	return key
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
