package relay

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/numrelay/numrelay/internal/classify"
	"github.com/numrelay/numrelay/internal/confirm"
	"github.com/numrelay/numrelay/internal/dedup"
	"github.com/numrelay/numrelay/internal/transport"
)

// Service owns the live bindings and dispatches inbound transport events to
// them. It is the transport.Handler for the daemon and the backend of the
// operator API.
type Service struct {
	store      *Store
	classifier *classify.Classifier
	dedup      *dedup.Store
	confirms   *confirm.Service
	client     transport.Client
	recentCap  int
	logger     *slog.Logger

	mu       sync.RWMutex
	bindings map[string]*Binding
}

// NewService creates the relay service.
func NewService(log *slog.Logger, store *Store, classifier *classify.Classifier, dedupStore *dedup.Store, confirms *confirm.Service, client transport.Client, recentCap int) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:      store,
		classifier: classifier,
		dedup:      dedupStore,
		confirms:   confirms,
		client:     client,
		recentCap:  recentCap,
		logger:     log.With(slog.String("component", "relay")),
		bindings:   map[string]*Binding{},
	}
}

// Bootstrap loads all stored active bindings into the runtime registry.
// Called once at startup so bindings survive restarts without reconfiguration.
func (s *Service) Bootstrap(ctx context.Context) error {
	stored, err := s.store.ListBindings(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cfg := range stored {
		if cfg.State != BindingActive {
			continue
		}
		s.bindings[cfg.ID] = s.newBinding(cfg)
	}
	s.logger.Info("bindings loaded", slog.Int("count", len(s.bindings)))
	return nil
}

// HandlePost fans a post out to every binding; each binding filters by its
// own source ID. Bindings for different sources process concurrently.
func (s *Service) HandlePost(ctx context.Context, post transport.Post) {
	for _, b := range s.snapshot() {
		b.HandlePost(ctx, post)
	}
}

// HandleButtonPress routes a press to the confirmation state machine.
func (s *Service) HandleButtonPress(ctx context.Context, press transport.ButtonPress) {
	if _, err := s.confirms.OnButtonPress(ctx, press); err != nil {
		s.logger.Error("button press failed", slog.String("token", press.Token), slog.Any("error", err))
	}
}

// CreateBinding validates both channels and registers a new relay pair.
func (s *Service) CreateBinding(ctx context.Context, sourceRef, targetRef, owner string) (ChannelBinding, error) {
	sourceID, err := s.validateSource(ctx, sourceRef)
	if err != nil {
		return ChannelBinding{}, err
	}
	targetID, err := s.validateTarget(ctx, targetRef)
	if err != nil {
		return ChannelBinding{}, err
	}

	now := time.Now().UTC()
	cfg := ChannelBinding{
		ID:        uuid.NewString(),
		SourceID:  sourceID,
		TargetID:  targetID,
		Owner:     strings.TrimSpace(owner),
		State:     BindingActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertBinding(ctx, cfg); err != nil {
		return ChannelBinding{}, err
	}

	s.mu.Lock()
	s.bindings[cfg.ID] = s.newBinding(cfg)
	s.mu.Unlock()

	s.logger.Info("binding created",
		slog.String("binding_id", cfg.ID),
		slog.Int64("source_id", sourceID),
		slog.Int64("target_id", targetID),
	)
	return cfg, nil
}

// UpdateBinding swaps the source and/or target channel of an existing
// binding. Empty refs keep the current value. The recent set is reset since
// transport keys embed the source ID.
func (s *Service) UpdateBinding(ctx context.Context, id, newSourceRef, newTargetRef string) (ChannelBinding, error) {
	cfg, err := s.store.GetBinding(ctx, id)
	if err != nil {
		return ChannelBinding{}, err
	}

	sourceID := cfg.SourceID
	if strings.TrimSpace(newSourceRef) != "" {
		if sourceID, err = s.validateSource(ctx, newSourceRef); err != nil {
			return ChannelBinding{}, err
		}
	}
	targetID := cfg.TargetID
	if strings.TrimSpace(newTargetRef) != "" {
		if targetID, err = s.validateTarget(ctx, newTargetRef); err != nil {
			return ChannelBinding{}, err
		}
	}

	if err := s.store.UpdateBinding(ctx, id, sourceID, targetID); err != nil {
		return ChannelBinding{}, err
	}
	cfg.SourceID = sourceID
	cfg.TargetID = targetID
	cfg.UpdatedAt = time.Now().UTC()

	s.mu.Lock()
	s.bindings[id] = s.newBinding(cfg)
	s.mu.Unlock()

	s.logger.Info("binding updated", slog.String("binding_id", id))
	return cfg, nil
}

// RemoveBinding tears down a binding and deletes its configuration.
func (s *Service) RemoveBinding(ctx context.Context, id string) error {
	if err := s.store.DeleteBinding(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.bindings, id)
	s.mu.Unlock()
	s.logger.Info("binding removed", slog.String("binding_id", id))
	return nil
}

// BindingStatus reports accumulated counters for one binding.
func (s *Service) BindingStatus(ctx context.Context, id string) (BindingStatus, error) {
	cfg, err := s.store.GetBinding(ctx, id)
	if err != nil {
		return BindingStatus{}, err
	}
	total, lastActivity, err := s.store.ActivityStats(ctx, id)
	if err != nil {
		return BindingStatus{}, err
	}
	confirmed, unconfirmed, err := s.confirms.StatsByBinding(ctx, id)
	if err != nil {
		return BindingStatus{}, err
	}
	return BindingStatus{
		Binding:          cfg,
		TotalMatched:     total,
		ConfirmedCount:   confirmed,
		UnconfirmedCount: unconfirmed,
		LastActivityAt:   lastActivity,
	}, nil
}

// ListBindings returns all stored bindings.
func (s *Service) ListBindings(ctx context.Context) ([]ChannelBinding, error) {
	return s.store.ListBindings(ctx)
}

// ListConfirmedItems returns the confirmed records for a source channel,
// most recent first.
func (s *Service) ListConfirmedItems(ctx context.Context, sourceID int64, limit int) ([]dedup.Record, error) {
	return s.dedup.ListBySource(ctx, sourceID, limit)
}

// Targets returns the distinct target channel IDs of all live bindings;
// used by the liveness notifier to fan out operator notifications.
func (s *Service) Targets() []int64 {
	seen := map[int64]struct{}{}
	var targets []int64
	for _, b := range s.snapshot() {
		id := b.Config().TargetID
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		targets = append(targets, id)
	}
	return targets
}

// PruneRecentSets trims every binding's recent set to its cap.
func (s *Service) PruneRecentSets() {
	for _, b := range s.snapshot() {
		b.PruneRecent(s.recentCap)
	}
}

// BindingCount returns the number of live bindings.
func (s *Service) BindingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bindings)
}

func (s *Service) newBinding(cfg ChannelBinding) *Binding {
	return NewBinding(s.logger, cfg, s.classifier, s.dedup, s.confirms, s.client, s.store, s.recentCap)
}

func (s *Service) snapshot() []*Binding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]*Binding, 0, len(s.bindings))
	for _, b := range s.bindings {
		items = append(items, b)
	}
	return items
}

// validateSource checks the source channel exists and the bot holds an
// administrator role there, which the platform requires for post delivery.
func (s *Service) validateSource(ctx context.Context, ref string) (int64, error) {
	chat, err := s.client.ResolveChat(ctx, ref)
	if err != nil {
		return 0, newValidationError("source", "channel not found or bot has no access",
			"check the channel ID (-100... or @name) and add the bot to the channel")
	}
	membership, err := s.client.GetMembership(ctx, chat.ID)
	if err != nil {
		return 0, newValidationError("source", "cannot read bot membership",
			"add the bot to the source channel and retry")
	}
	if !membership.IsAdmin() {
		return 0, newValidationError("source", "bot is not an administrator",
			"promote the bot to administrator in the source channel so it receives posts")
	}
	return chat.ID, nil
}

// validateTarget checks the target channel exists and the bot can post there.
func (s *Service) validateTarget(ctx context.Context, ref string) (int64, error) {
	chat, err := s.client.ResolveChat(ctx, ref)
	if err != nil {
		return 0, newValidationError("target", "channel not found or bot has no access",
			"check the channel ID (-100... or @name) and add the bot to the channel")
	}
	membership, err := s.client.GetMembership(ctx, chat.ID)
	if err != nil {
		return 0, newValidationError("target", "cannot read bot membership",
			"add the bot to the target channel and retry")
	}
	if !membership.CanPostMessages {
		return 0, newValidationError("target", "bot cannot post messages",
			"grant the bot post permission in the target channel")
	}
	return chat.ID, nil
}
