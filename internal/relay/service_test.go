package relay

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/numrelay/numrelay/internal/classify"
	"github.com/numrelay/numrelay/internal/confirm"
	"github.com/numrelay/numrelay/internal/dedup"
	"github.com/numrelay/numrelay/internal/transport"
)

func TestCreateBindingValidation(t *testing.T) {
	ts := newTestStack(t)
	ctx := context.Background()

	t.Run("unknown source channel", func(t *testing.T) {
		_, err := ts.service.CreateBinding(ctx, "@missing", "dst", "")
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		require.Equal(t, "source", verr.Field)
		require.NotEmpty(t, verr.Hint)
	})

	t.Run("bot not admin in source", func(t *testing.T) {
		ts.client.chats["@src"] = transport.ChatInfo{ID: -300, Type: "channel"}
		ts.client.membership[-300] = transport.Membership{Status: "member"}
		_, err := ts.service.CreateBinding(ctx, "@src", "dst", "")
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		require.Equal(t, "source", verr.Field)
	})

	t.Run("bot cannot post in target", func(t *testing.T) {
		ts.client.chats["@src"] = transport.ChatInfo{ID: -300, Type: "channel"}
		ts.client.membership[-300] = transport.Membership{Status: "administrator", CanPostMessages: true}
		ts.client.chats["@dst"] = transport.ChatInfo{ID: -400, Type: "channel"}
		ts.client.membership[-400] = transport.Membership{Status: "administrator", CanPostMessages: false}
		_, err := ts.service.CreateBinding(ctx, "@src", "@dst", "")
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		require.Equal(t, "target", verr.Field)
	})
}

func TestUpdateBinding(t *testing.T) {
	ts := newTestStack(t)
	cfg := ts.addBinding(t, -100, -200)
	ctx := context.Background()

	ts.client.chats["@newsrc"] = transport.ChatInfo{ID: -150, Type: "channel"}
	ts.client.membership[-150] = transport.Membership{Status: "administrator", CanPostMessages: true}

	updated, err := ts.service.UpdateBinding(ctx, cfg.ID, "@newsrc", "")
	require.NoError(t, err)
	require.EqualValues(t, -150, updated.SourceID)
	require.EqualValues(t, -200, updated.TargetID, "empty ref keeps current target")

	// Traffic for the old source is no longer picked up.
	ts.service.HandlePost(ctx, post(-100, 1, matchingText, false))
	require.Zero(t, ts.client.sentCount())

	ts.service.HandlePost(ctx, post(-150, 1, matchingText, false))
	require.Equal(t, 1, ts.client.sentCount())
}

func TestUpdateUnknownBinding(t *testing.T) {
	ts := newTestStack(t)
	_, err := ts.service.UpdateBinding(context.Background(), "nope", "", "")
	require.ErrorIs(t, err, ErrBindingNotFound)
}

func TestRemoveBinding(t *testing.T) {
	ts := newTestStack(t)
	cfg := ts.addBinding(t, -100, -200)
	ctx := context.Background()

	require.NoError(t, ts.service.RemoveBinding(ctx, cfg.ID))
	require.Zero(t, ts.service.BindingCount())

	ts.service.HandlePost(ctx, post(-100, 1, matchingText, false))
	require.Zero(t, ts.client.sentCount())

	require.ErrorIs(t, ts.service.RemoveBinding(ctx, cfg.ID), ErrBindingNotFound)
}

func TestBootstrapReloadsActiveBindings(t *testing.T) {
	conn := newTestDB(t)
	client := newFakeClient()
	dedupStore := dedup.NewStore(slog.Default(), conn)
	confirms := confirm.NewService(slog.Default(), conn, dedupStore, client)
	store := NewStore(conn)
	classifier := classify.NewClassifier(classify.DefaultRules())
	ctx := context.Background()

	first := NewService(slog.Default(), store, classifier, dedupStore, confirms, client, 1000)
	client.chats["src"] = transport.ChatInfo{ID: -100, Type: "channel"}
	client.chats["dst"] = transport.ChatInfo{ID: -200, Type: "channel"}
	client.membership[-100] = transport.Membership{Status: "administrator", CanPostMessages: true}
	client.membership[-200] = transport.Membership{Status: "administrator", CanPostMessages: true}
	_, err := first.CreateBinding(ctx, "src", "dst", "ops")
	require.NoError(t, err)

	// A fresh service over the same database picks the binding up again.
	second := NewService(slog.Default(), store, classifier, dedupStore, confirms, client, 1000)
	require.NoError(t, second.Bootstrap(ctx))
	require.Equal(t, 1, second.BindingCount())

	second.HandlePost(ctx, post(-100, 1, matchingText, false))
	require.Equal(t, 1, client.sentCount())
}

func TestConcurrentPostsForDifferentSources(t *testing.T) {
	ts := newTestStack(t)
	ts.addBinding(t, -100, -200)

	ts.client.chats["src2"] = transport.ChatInfo{ID: -101, Type: "channel"}
	ts.client.chats["dst2"] = transport.ChatInfo{ID: -201, Type: "channel"}
	ts.client.membership[-101] = transport.Membership{Status: "administrator", CanPostMessages: true}
	ts.client.membership[-201] = transport.Membership{Status: "administrator", CanPostMessages: true}
	_, err := ts.service.CreateBinding(context.Background(), "src2", "dst2", "")
	require.NoError(t, err)

	ctx := context.Background()
	done := make(chan struct{}, 2)
	go func() {
		for i := 0; i < 20; i++ {
			ts.service.HandlePost(ctx, post(-100, i, matchingText, false))
		}
		done <- struct{}{}
	}()
	go func() {
		for i := 0; i < 20; i++ {
			ts.service.HandlePost(ctx, post(-101, i, matchingText, false))
		}
		done <- struct{}{}
	}()
	<-done
	<-done

	require.Equal(t, 40, ts.client.sentCount())
}

func TestTargetsDeduplicated(t *testing.T) {
	ts := newTestStack(t)
	ts.addBinding(t, -100, -200)

	ts.client.chats["src2"] = transport.ChatInfo{ID: -101, Type: "channel"}
	ts.client.membership[-101] = transport.Membership{Status: "administrator", CanPostMessages: true}
	_, err := ts.service.CreateBinding(context.Background(), "src2", "dst", "")
	require.NoError(t, err)

	targets := ts.service.Targets()
	require.Len(t, targets, 1)
	require.EqualValues(t, -200, targets[0])
}
