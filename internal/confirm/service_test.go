package confirm

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	migrations "github.com/numrelay/numrelay/db"
	"github.com/numrelay/numrelay/internal/db"
	"github.com/numrelay/numrelay/internal/dedup"
	"github.com/numrelay/numrelay/internal/transport"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	fsys, err := migrations.Migrations()
	require.NoError(t, err)
	require.NoError(t, db.Migrate(slog.Default(), conn, fsys))
	return conn
}

type editCall struct {
	ChatID    int64
	MessageID int
	Controls  transport.Controls
}

type answerCall struct {
	CallbackID string
	Text       string
	Alert      bool
}

// recordingClient captures control edits and press acknowledgments.
type recordingClient struct {
	mu      sync.Mutex
	edits   []editCall
	answers []answerCall
	editErr error
}

func (c *recordingClient) SendMessage(context.Context, int64, string, *transport.Controls) (int, error) {
	return 0, errors.New("not used")
}

func (c *recordingClient) EditMessageControls(_ context.Context, chatID int64, messageID int, controls transport.Controls) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.editErr != nil {
		return c.editErr
	}
	c.edits = append(c.edits, editCall{ChatID: chatID, MessageID: messageID, Controls: controls})
	return nil
}

func (c *recordingClient) DeleteMessage(context.Context, int64, int) error { return nil }

func (c *recordingClient) AnswerButtonPress(_ context.Context, callbackID, text string, alert bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.answers = append(c.answers, answerCall{CallbackID: callbackID, Text: text, Alert: alert})
	return nil
}

func (c *recordingClient) ResolveChat(context.Context, string) (transport.ChatInfo, error) {
	return transport.ChatInfo{}, errors.New("not used")
}

func (c *recordingClient) GetMembership(context.Context, int64) (transport.Membership, error) {
	return transport.Membership{}, errors.New("not used")
}

func (c *recordingClient) Probe(context.Context) error { return nil }

func newFixture(t *testing.T) (*Service, *dedup.Store, *recordingClient) {
	t.Helper()
	conn := newTestDB(t)
	client := &recordingClient{}
	dedupStore := dedup.NewStore(slog.Default(), conn)
	return NewService(slog.Default(), conn, dedupStore, client), dedupStore, client
}

func press(token, callbackID string, who transport.Principal) transport.ButtonPress {
	return transport.ButtonPress{
		CallbackID: callbackID,
		Token:      token,
		Principal:  who,
		At:         time.Now().UTC(),
	}
}

func TestConfirmTransition(t *testing.T) {
	svc, dedupStore, client := newFixture(t)
	ctx := context.Background()

	token := MintToken()
	require.NoError(t, svc.Register(ctx, Pending{
		Token:           token,
		BindingID:       "b1",
		SourceID:        -100,
		TargetID:        -200,
		SourceMessageID: 7,
		TargetMessageID: 42,
		Identity:        "96650123456",
		FullText:        "96650123456\nline",
	}))

	outcome, err := svc.OnButtonPress(ctx, press(token, "cb1", transport.Principal{ID: 9, Username: "operator"}))
	require.NoError(t, err)
	require.Equal(t, OutcomeConfirmed, outcome)

	// The dedup filter now suppresses the identity for that source.
	confirmed, err := dedupStore.IsConfirmed(ctx, -100, "96650123456")
	require.NoError(t, err)
	require.True(t, confirmed)

	// The button label flipped on the forwarded copy.
	require.Len(t, client.edits, 1)
	require.EqualValues(t, -200, client.edits[0].ChatID)
	require.Equal(t, 42, client.edits[0].MessageID)
	require.Equal(t, ConfirmedLabel, client.edits[0].Controls.Label)

	require.Len(t, client.answers, 1)
	require.False(t, client.answers[0].Alert)

	got, err := svc.Get(ctx, token)
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, got.Status)
	require.Equal(t, "operator", got.ConfirmedBy)
	require.NotNil(t, got.ConfirmedAt)
}

func TestRepeatPressIsNoop(t *testing.T) {
	svc, _, client := newFixture(t)
	ctx := context.Background()

	token := MintToken()
	require.NoError(t, svc.Register(ctx, Pending{
		Token: token, BindingID: "b1", SourceID: -100, TargetID: -200,
		SourceMessageID: 1, TargetMessageID: 2, Identity: "96650123456",
	}))

	first, err := svc.OnButtonPress(ctx, press(token, "cb1", transport.Principal{ID: 9, Username: "operator"}))
	require.NoError(t, err)
	require.Equal(t, OutcomeConfirmed, first)

	second, err := svc.OnButtonPress(ctx, press(token, "cb2", transport.Principal{ID: 10, Username: "other"}))
	require.NoError(t, err)
	require.Equal(t, OutcomeAlreadyConfirmed, second)

	// No second control update, and the original confirmer is kept.
	require.Len(t, client.edits, 1)
	got, err := svc.Get(ctx, token)
	require.NoError(t, err)
	require.Equal(t, "operator", got.ConfirmedBy)
}

func TestUnknownToken(t *testing.T) {
	svc, _, client := newFixture(t)

	outcome, err := svc.OnButtonPress(context.Background(), press("no-such-token", "cb1", transport.Principal{ID: 9}))
	require.NoError(t, err)
	require.Equal(t, OutcomeNotFound, outcome)

	require.Len(t, client.answers, 1)
	require.True(t, client.answers[0].Alert)
	require.Empty(t, client.edits)
}

func TestConcurrentPressesSingleTransition(t *testing.T) {
	svc, dedupStore, client := newFixture(t)
	ctx := context.Background()

	token := MintToken()
	require.NoError(t, svc.Register(ctx, Pending{
		Token: token, BindingID: "b1", SourceID: -100, TargetID: -200,
		SourceMessageID: 1, TargetMessageID: 2, Identity: "96650123456",
	}))

	const pressers = 8
	outcomes := make([]Outcome, pressers)
	errs := make([]error, pressers)
	var wg sync.WaitGroup
	for i := 0; i < pressers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = svc.OnButtonPress(ctx, press(token, "cb", transport.Principal{ID: int64(i + 1), FirstName: "op"}))
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	var confirmed, already int
	for _, out := range outcomes {
		switch out {
		case OutcomeConfirmed:
			confirmed++
		case OutcomeAlreadyConfirmed:
			already++
		}
	}
	require.Equal(t, 1, confirmed, "exactly one press wins the transition")
	require.Equal(t, pressers-1, already)

	require.Len(t, client.edits, 1)
	count, err := dedupStore.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestControlEditFailureStillConfirms(t *testing.T) {
	svc, dedupStore, client := newFixture(t)
	ctx := context.Background()
	client.editErr = errors.New("message to edit not found")

	token := MintToken()
	require.NoError(t, svc.Register(ctx, Pending{
		Token: token, BindingID: "b1", SourceID: -100, TargetID: -200,
		SourceMessageID: 1, TargetMessageID: 2, Identity: "96650123456",
	}))

	outcome, err := svc.OnButtonPress(ctx, press(token, "cb1", transport.Principal{ID: 9, Username: "operator"}))
	require.NoError(t, err)
	require.Equal(t, OutcomeConfirmed, outcome)

	confirmed, err := dedupStore.IsConfirmed(ctx, -100, "96650123456")
	require.NoError(t, err)
	require.True(t, confirmed)
}

func TestStatsByBinding(t *testing.T) {
	svc, _, _ := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Register(ctx, Pending{
			Token: MintToken(), BindingID: "b1", SourceID: -100, TargetID: -200,
			SourceMessageID: i, TargetMessageID: i + 100, Identity: "96650123456",
		}))
	}
	winner := MintToken()
	require.NoError(t, svc.Register(ctx, Pending{
		Token: winner, BindingID: "b1", SourceID: -100, TargetID: -200,
		SourceMessageID: 9, TargetMessageID: 109, Identity: "96650999999",
	}))
	_, err := svc.OnButtonPress(ctx, press(winner, "cb", transport.Principal{ID: 1, Username: "op"}))
	require.NoError(t, err)

	confirmed, unconfirmed, err := svc.StatsByBinding(ctx, "b1")
	require.NoError(t, err)
	require.EqualValues(t, 1, confirmed)
	require.EqualValues(t, 3, unconfirmed)
}
