package liveness

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const unknownDowntime = "غير معروف"

// HumanizeDowntime renders a downtime duration the way operators read it:
// whole seconds under a minute, whole minutes under an hour, whole hours
// beyond that.
func HumanizeDowntime(d time.Duration) string {
	seconds := int64(d.Seconds())
	if seconds < 0 {
		return unknownDowntime
	}
	switch {
	case seconds < 60:
		return fmt.Sprintf("%d ثانية", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%d دقيقة", seconds/60)
	default:
		return fmt.Sprintf("%d ساعة", seconds/3600)
	}
}

// SendFunc delivers one plain notification message to a chat.
type SendFunc func(ctx context.Context, chatID int64, text string) (int, error)

// TargetLister yields the distinct target channels of all active bindings.
type TargetLister interface {
	Targets() []int64
}

// FilterCounter reports the current size of the confirmation filter.
type FilterCounter interface {
	Count(ctx context.Context) (int64, error)
}

// Notifier fans outage notifications out to every active binding's target
// channel. Delivery is best effort per target; one unreachable channel never
// blocks the rest.
type Notifier struct {
	send    SendFunc
	targets TargetLister
	filter  FilterCounter
	logger  *slog.Logger
}

func NewNotifier(log *slog.Logger, send SendFunc, targets TargetLister, filter FilterCounter) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{
		send:    send,
		targets: targets,
		filter:  filter,
		logger:  log.With(slog.String("component", "liveness")),
	}
}

// NotifyStopped announces a detected outage to all targets.
func (n *Notifier) NotifyStopped(ctx context.Context, status BotStatus) {
	stoppedAt := time.Now()
	if status.LastStoppedAt != nil {
		stoppedAt = status.LastStoppedAt.Local()
	}
	text := fmt.Sprintf(
		"⚠️ تنبيه: توقف البوت مؤقتاً\n\n"+
			"⏰ وقت التوقف: %s\n"+
			"📊 عدد مرات التوقف: %d\n\n"+
			"🔄 سيتم إعادة التشغيل تلقائياً خلال لحظات...",
		stoppedAt.Format("2006-01-02 15:04:05"), status.StopCount,
	)
	n.broadcast(ctx, text, "stop")
}

// NotifyBackOnline announces a recovery, with the humanized downtime and the
// current size of the confirmation filter.
func (n *Notifier) NotifyBackOnline(ctx context.Context, status BotStatus, downtime string) {
	if downtime == "" {
		downtime = unknownDowntime
	}
	filtered := int64(0)
	if n.filter != nil {
		if count, err := n.filter.Count(ctx); err == nil {
			filtered = count
		} else {
			n.logger.Warn("filter count failed", slog.Any("error", err))
		}
	}
	text := fmt.Sprintf(
		"✅ تم إعادة تشغيل البوت تلقائياً\n\n"+
			"⏰ وقت التشغيل: %s\n"+
			"⏱️ مدة التوقف: %s\n"+
			"📊 عدد مرات التوقف: %d\n\n"+
			"🔬 الفلتر يعمل: %d رقم مجرب\n"+
			"🚀 البوت يعمل الآن بشكل طبيعي",
		time.Now().Format("2006-01-02 15:04:05"), downtime, status.StopCount, filtered,
	)
	n.broadcast(ctx, text, "back_online")
}

func (n *Notifier) broadcast(ctx context.Context, text, kind string) {
	targets := n.targets.Targets()
	for _, chatID := range targets {
		if _, err := n.send(ctx, chatID, text); err != nil {
			n.logger.Error("outage notification failed",
				slog.String("kind", kind),
				slog.Int64("target_id", chatID),
				slog.Any("error", err),
			)
		}
	}
	n.logger.Info("outage notification sent",
		slog.String("kind", kind),
		slog.Int("targets", len(targets)),
	)
}
