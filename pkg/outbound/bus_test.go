package outbound

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/crypdick/pynchy/pkg/models"
	"github.com/crypdick/pynchy/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *store.Client {
	t.Helper()
	cli, err := store.NewClient(store.DefaultConfig(filepath.Join(t.TempDir(), "test.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cli.Close() })
	return cli
}

type fakeChannel struct {
	name            string
	outboundAllowed bool
	ownsJID         bool
	sent            []string
	sendErr         error

	updateErr error
	updated   []string

	reacted []string

	fetchMsgs  []models.Message
	newCursor  string
	fetchErr   error
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) SendMessage(ctx context.Context, chatJID, text string) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, chatJID+":"+text)
	return "msg-1", nil
}

func (f *fakeChannel) OutboundAllowed(chatJID string) bool { return f.outboundAllowed }
func (f *fakeChannel) OwnsJID(chatJID string) bool          { return f.ownsJID }

func (f *fakeChannel) UpdateMessage(ctx context.Context, chatJID, messageID, text string) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updated = append(f.updated, chatJID+":"+messageID+":"+text)
	return nil
}

func (f *fakeChannel) React(ctx context.Context, chatJID, messageID, emoji string) error {
	f.reacted = append(f.reacted, chatJID+":"+messageID+":"+emoji)
	return nil
}

func (f *fakeChannel) FetchInboundSince(ctx context.Context, chatJID, cursor string) ([]models.Message, string, error) {
	return f.fetchMsgs, f.newCursor, f.fetchErr
}

func TestBroadcastSendsToAllowedChannelsAndRecordsLedger(t *testing.T) {
	cli := newTestStore(t)
	bus := New(cli, nil)

	allowed := &fakeChannel{name: "slack", outboundAllowed: true}
	denied := &fakeChannel{name: "whatsapp", outboundAllowed: false}
	bus.Register(allowed)
	bus.Register(denied)

	err := bus.Broadcast(context.Background(), "chat-1", "hello", "agent")
	require.NoError(t, err)

	assert.Equal(t, []string{"chat-1:hello"}, allowed.sent)
	assert.Empty(t, denied.sent)
}

func TestBroadcastWithOptionsSkipsSourceChannel(t *testing.T) {
	cli := newTestStore(t)
	bus := New(cli, nil)

	slack := &fakeChannel{name: "slack", outboundAllowed: true}
	tui := &fakeChannel{name: "tui", outboundAllowed: true}
	bus.Register(slack)
	bus.Register(tui)

	err := bus.BroadcastWithOptions(context.Background(), "chat-1", "hi", BroadcastOptions{SkipChannel: "slack"})
	require.NoError(t, err)

	assert.Empty(t, slack.sent)
	assert.Equal(t, []string{"chat-1:hi"}, tui.sent)
}

func TestBroadcastSuppressesErrorsWhenRequested(t *testing.T) {
	cli := newTestStore(t)
	bus := New(cli, nil)
	failing := &fakeChannel{name: "slack", outboundAllowed: true, sendErr: errors.New("boom")}
	bus.Register(failing)

	err := bus.BroadcastWithOptions(context.Background(), "chat-1", "hi", BroadcastOptions{SuppressErrors: true})
	assert.NoError(t, err)

	err = bus.BroadcastWithOptions(context.Background(), "chat-1", "hi", BroadcastOptions{})
	assert.Error(t, err)
}

func TestFinalizeStreamOrBroadcastUpdatesInPlace(t *testing.T) {
	cli := newTestStore(t)
	bus := New(cli, nil)
	slack := &fakeChannel{name: "slack", outboundAllowed: true}
	tui := &fakeChannel{name: "tui", outboundAllowed: true}
	bus.Register(slack)
	bus.Register(tui)

	err := bus.FinalizeStreamOrBroadcast(context.Background(), "chat-1", "final text",
		map[string]string{"slack": "stream-msg-1"}, "agent")
	require.NoError(t, err)

	assert.Equal(t, []string{"chat-1:stream-msg-1:final text"}, slack.updated)
	assert.Empty(t, slack.sent)
	assert.Equal(t, []string{"chat-1:final text"}, tui.sent)
}

func TestFinalizeStreamOrBroadcastFallsBackToSendOnUpdateFailure(t *testing.T) {
	cli := newTestStore(t)
	bus := New(cli, nil)
	slack := &fakeChannel{name: "slack", outboundAllowed: true, updateErr: errors.New("edit window expired")}
	bus.Register(slack)

	err := bus.FinalizeStreamOrBroadcast(context.Background(), "chat-1", "final text",
		map[string]string{"slack": "stream-msg-1"}, "agent")
	require.NoError(t, err)

	assert.Equal(t, []string{"chat-1:final text"}, slack.sent)
}

func TestReactForwardsToReactorChannels(t *testing.T) {
	cli := newTestStore(t)
	bus := New(cli, nil)
	slack := &fakeChannel{name: "slack", outboundAllowed: true}
	bus.Register(slack)

	err := bus.React(context.Background(), "chat-1", "msg-1", "thumbsup")
	require.NoError(t, err)
	assert.Equal(t, []string{"chat-1:msg-1:thumbsup"}, slack.reacted)
}

func TestReconcileInboundFetchesAndAdvancesCursor(t *testing.T) {
	cli := newTestStore(t)
	bus := New(cli, nil)
	ctx := context.Background()

	require.NoError(t, cli.UpsertWorkspace(ctx, models.Workspace{
		JID: "chat-1", Name: "acme", Folder: "acme", AddedAt: time.Now().UTC(),
	}))

	slack := &fakeChannel{
		name: "slack", outboundAllowed: true,
		fetchMsgs: []models.Message{{ID: "m1", ChatJID: "chat-1", Content: "hi", Timestamp: time.Now().UTC()}},
		newCursor: "cursor-2",
	}
	bus.Register(slack)

	bus.Reconcile(ctx)

	cur, err := cli.GetChannelCursor(ctx, "slack", "chat-1", models.CursorInbound)
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, "cursor-2", cur.CursorValue)

	msgs, err := cli.MessagesSince(ctx, time.Time{}, "")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)

	// Re-running reconciliation with the same message id must not error (merge-insert dedup).
	bus.Reconcile(ctx)
	msgs, err = cli.MessagesSince(ctx, time.Time{}, "")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestReconcileOutboundRetriesRetriesFailedDeliveries(t *testing.T) {
	cli := newTestStore(t)
	bus := New(cli, nil)
	ctx := context.Background()

	entry := models.OutboundLedgerEntry{ID: "ledger-1", ChatJID: "chat-1", Content: "retry me", Timestamp: time.Now().UTC().Add(-time.Hour), Source: "agent"}
	require.NoError(t, cli.InsertOutboundLedgerEntry(ctx, entry))
	require.NoError(t, cli.RecordDeliveryAttempt(ctx, models.OutboundDelivery{LedgerID: "ledger-1", ChannelName: "slack", Error: "timeout"}))

	slack := &fakeChannel{name: "slack", outboundAllowed: true}
	bus.Register(slack)

	bus.Reconcile(ctx)

	assert.Equal(t, []string{"chat-1:retry me"}, slack.sent)
}
