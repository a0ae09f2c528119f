package relay

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	migrations "github.com/numrelay/numrelay/db"
	"github.com/numrelay/numrelay/internal/classify"
	"github.com/numrelay/numrelay/internal/confirm"
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

type sentMessage struct {
	ChatID   int64
	Text     string
	Controls *transport.Controls
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

var errTransport = errors.New("transport failure")

// fakeClient records outbound transport calls for assertions.
type fakeClient struct {
	mu            sync.Mutex
	sent          []sentMessage
	edits         []editCall
	answers       []answerCall
	nextMessageID int
	sendErr       error

	chats      map[string]transport.ChatInfo
	membership map[int64]transport.Membership
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		chats:      map[string]transport.ChatInfo{},
		membership: map[int64]transport.Membership{},
	}
}

func (f *fakeClient) SendMessage(_ context.Context, chatID int64, text string, controls *transport.Controls) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return 0, f.sendErr
	}
	f.nextMessageID++
	f.sent = append(f.sent, sentMessage{ChatID: chatID, Text: text, Controls: controls})
	return f.nextMessageID, nil
}

func (f *fakeClient) EditMessageControls(_ context.Context, chatID int64, messageID int, controls transport.Controls) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, editCall{ChatID: chatID, MessageID: messageID, Controls: controls})
	return nil
}

func (f *fakeClient) DeleteMessage(context.Context, int64, int) error { return nil }

func (f *fakeClient) AnswerButtonPress(_ context.Context, callbackID, text string, alert bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, answerCall{CallbackID: callbackID, Text: text, Alert: alert})
	return nil
}

func (f *fakeClient) ResolveChat(_ context.Context, ref string) (transport.ChatInfo, error) {
	if chat, ok := f.chats[ref]; ok {
		return chat, nil
	}
	return transport.ChatInfo{}, errors.New("chat not found")
}

func (f *fakeClient) GetMembership(_ context.Context, chatID int64) (transport.Membership, error) {
	if m, ok := f.membership[chatID]; ok {
		return m, nil
	}
	return transport.Membership{}, errors.New("not a member")
}

func (f *fakeClient) Probe(context.Context) error { return nil }

func (f *fakeClient) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeClient) lastSent() sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

type testStack struct {
	client   *fakeClient
	store    *Store
	dedup    *dedup.Store
	confirms *confirm.Service
	service  *Service
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	conn := newTestDB(t)
	client := newFakeClient()
	dedupStore := dedup.NewStore(slog.Default(), conn)
	confirms := confirm.NewService(slog.Default(), conn, dedupStore, client)
	store := NewStore(conn)
	classifier := classify.NewClassifier(classify.DefaultRules())
	service := NewService(slog.Default(), store, classifier, dedupStore, confirms, client, 1000)
	return &testStack{
		client:   client,
		store:    store,
		dedup:    dedupStore,
		confirms: confirms,
		service:  service,
	}
}

func (ts *testStack) addBinding(t *testing.T, sourceID, targetID int64) ChannelBinding {
	t.Helper()
	ts.client.chats["src"] = transport.ChatInfo{ID: sourceID, Title: "source", Type: "channel"}
	ts.client.chats["dst"] = transport.ChatInfo{ID: targetID, Title: "target", Type: "channel"}
	ts.client.membership[sourceID] = transport.Membership{Status: "administrator", CanPostMessages: true}
	ts.client.membership[targetID] = transport.Membership{Status: "administrator", CanPostMessages: true}
	cfg, err := ts.service.CreateBinding(context.Background(), "src", "dst", "ops")
	require.NoError(t, err)
	return cfg
}
