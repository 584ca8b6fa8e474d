// ABOUTME: Tests for the conversation service
// ABOUTME: Verifies record-then-deliver ordering, membership rules, room sync, and bot dialogs

package conversation

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/huddle-gateway/internal/dispatch"
	"github.com/2389/huddle-gateway/internal/fanout"
	"github.com/2389/huddle-gateway/internal/presence"
	"github.com/2389/huddle-gateway/internal/secret"
	"github.com/2389/huddle-gateway/internal/store"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

// fakeDispatcher implements Dispatcher for testing
type fakeDispatcher struct {
	mu      sync.Mutex
	reply   string
	err     error
	block   chan struct{}
	calls   int
	lastCtx context.Context
	history []*store.Message
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, bot *store.BotProfile, prompt string, history []*store.Message) (string, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastCtx = ctx
	f.history = history
	return f.reply, f.err
}

func (f *fakeDispatcher) HistoryLimit() int { return dispatch.DefaultHistoryLimit }

func (f *fakeDispatcher) Supports(model string) bool {
	_, err := dispatch.ParseModel(model)
	return err == nil
}

type harness struct {
	svc      *Service
	dir      store.Directory
	registry *presence.Registry
	disp     *fakeDispatcher
	codec    *secret.Codec
}

func newHarness(t *testing.T, dir store.Directory) *harness {
	t.Helper()
	codec, err := secret.NewCodec(testKeyHex)
	require.NoError(t, err)

	reg := presence.NewRegistry(nil)
	disp := &fakeDispatcher{reply: "beep"}
	svc := New(Deps{
		Directory:  dir,
		Presence:   reg,
		Rooms:      presence.NewSynchronizer(reg, dir, nil),
		Router:     fanout.NewRouter(reg, nil),
		Dispatcher: disp,
		Keys:       codec,
	})
	return &harness{svc: svc, dir: dir, registry: reg, disp: disp, codec: codec}
}

func createTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func (h *harness) connect(t *testing.T, identity string) *presence.Connection {
	t.Helper()
	c := presence.NewConnection(identity)
	require.NoError(t, h.svc.Connect(t.Context(), c))
	return c
}

func (h *harness) befriend(t *testing.T, a string, others ...string) {
	t.Helper()
	for _, b := range others {
		require.NoError(t, h.svc.AddContact(t.Context(), a, b))
	}
}

func newMessages(c *presence.Connection) []*store.Message {
	var out []*store.Message
	for {
		select {
		case ev := <-c.Outbox():
			if ev.Type == presence.EventNewMessage {
				out = append(out, ev.Message)
			}
		default:
			return out
		}
	}
}

func TestConnect_JoinsExistingRooms(t *testing.T) {
	h := newHarness(t, createTestStore(t))
	h.befriend(t, "alice", "bob")

	conv, created, err := h.svc.CreateConversation(t.Context(), CreateRequest{Creator: "alice", Participants: []string{"bob"}})
	require.NoError(t, err)
	require.True(t, created)

	bob := h.connect(t, "bob")
	assert.Equal(t, []string{conv.ID}, h.registry.RoomsOf(bob.ID()))

	h.svc.Disconnect(bob)
	assert.False(t, h.registry.IsOnline("bob"))
	assert.Empty(t, h.registry.RoomMembers(conv.ID))
}

func TestConnect_ReconcileFailureUnregisters(t *testing.T) {
	reg := presence.NewRegistry(nil)
	svc := New(Deps{
		Directory: store.NewMockStore(),
		Presence:  reg,
		Rooms:     failingRooms{},
		Router:    fanout.NewRouter(reg, nil),
	})

	c := presence.NewConnection("alice")
	assert.Error(t, svc.Connect(t.Context(), c))
	assert.False(t, reg.IsOnline("alice"))
}

type failingRooms struct{}

func (failingRooms) Reconcile(ctx context.Context, identity string) error {
	return errors.New("directory down")
}

func TestCreateConversation_DirectIsUniqueAndReturnsExisting(t *testing.T) {
	h := newHarness(t, createTestStore(t))
	h.befriend(t, "alice", "bob")

	first, created, err := h.svc.CreateConversation(t.Context(), CreateRequest{Creator: "alice", Participants: []string{"bob"}})
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, first.IsGroup)
	assert.Empty(t, first.AdminID)

	second, created, err := h.svc.CreateConversation(t.Context(), CreateRequest{Creator: "bob", Participants: []string{"alice", "bob"}})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestCreateConversation_GroupRules(t *testing.T) {
	h := newHarness(t, createTestStore(t))
	h.befriend(t, "alice", "bob", "carol")

	conv, created, err := h.svc.CreateConversation(t.Context(), CreateRequest{Creator: "alice", Participants: []string{"bob", "carol"}})
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, conv.IsGroup, "more than two participants forces a group")
	assert.Equal(t, DefaultGroupName, conv.Name)
	assert.Equal(t, "alice", conv.AdminID)

	explicit, _, err := h.svc.CreateConversation(t.Context(), CreateRequest{Creator: "alice", Participants: []string{"bob"}, IsGroup: true, Name: "pair group"})
	require.NoError(t, err)
	assert.True(t, explicit.IsGroup)
	assert.Equal(t, "pair group", explicit.Name)
}

func TestCreateConversation_Rejections(t *testing.T) {
	h := newHarness(t, createTestStore(t))
	h.befriend(t, "alice", "bob")

	_, _, err := h.svc.CreateConversation(t.Context(), CreateRequest{Creator: "alice", Participants: []string{"alice"}})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, _, err = h.svc.CreateConversation(t.Context(), CreateRequest{Creator: "alice", Participants: []string{"mallory"}})
	assert.ErrorIs(t, err, ErrMembership)
}

func TestCreateConversation_JoinsLiveParticipants(t *testing.T) {
	h := newHarness(t, createTestStore(t))
	h.befriend(t, "alice", "bob", "carol")

	alice := h.connect(t, "alice")
	bob := h.connect(t, "bob")

	conv, _, err := h.svc.CreateConversation(t.Context(), CreateRequest{Creator: "alice", Participants: []string{"bob", "carol"}})
	require.NoError(t, err)

	assert.Equal(t, []string{conv.ID}, h.registry.RoomsOf(alice.ID()))
	assert.Equal(t, []string{conv.ID}, h.registry.RoomsOf(bob.ID()))
}

func TestSendMessage_PersistsThenDelivers(t *testing.T) {
	h := newHarness(t, createTestStore(t))
	h.befriend(t, "alice", "bob", "carol")

	alice := h.connect(t, "alice")
	bob := h.connect(t, "bob")
	carol := h.connect(t, "carol")

	conv, _, err := h.svc.CreateConversation(t.Context(), CreateRequest{Creator: "alice", Participants: []string{"bob"}})
	require.NoError(t, err)

	msg, err := h.svc.SendMessage(t.Context(), "alice", conv.ID, "hello", "")
	require.NoError(t, err)

	got := newMessages(bob)
	require.Len(t, got, 1)
	assert.Equal(t, msg.ID, got[0].ID)
	assert.Len(t, newMessages(alice), 1)
	assert.Empty(t, newMessages(carol), "non-members never see the message")

	stored, err := h.dir.FindMessages(t.Context(), conv.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)

	updated, err := h.dir.GetConversation(t.Context(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, updated.LastMessageID)
}

func TestSendMessage_PersistFailureDeliversNothing(t *testing.T) {
	mock := store.NewMockStore()
	h := newHarness(t, mock)
	h.befriend(t, "alice", "bob")

	bob := h.connect(t, "bob")
	conv, _, err := h.svc.CreateConversation(t.Context(), CreateRequest{Creator: "alice", Participants: []string{"bob"}})
	require.NoError(t, err)

	mock.AppendErr = errors.New("disk full")
	_, err = h.svc.SendMessage(t.Context(), "alice", conv.ID, "hello", "")
	require.Error(t, err)
	assert.Empty(t, newMessages(bob))
}

func TestSendMessage_NonParticipant(t *testing.T) {
	h := newHarness(t, createTestStore(t))
	h.befriend(t, "alice", "bob")

	conv, _, err := h.svc.CreateConversation(t.Context(), CreateRequest{Creator: "alice", Participants: []string{"bob"}})
	require.NoError(t, err)

	_, err = h.svc.SendMessage(t.Context(), "mallory", conv.ID, "hi", "")
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = h.svc.Messages(t.Context(), "mallory", conv.ID)
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = h.svc.SendMessage(t.Context(), "alice", conv.ID, "  ", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestGroupMembership_AdminRulesAndRoomSync(t *testing.T) {
	h := newHarness(t, createTestStore(t))
	h.befriend(t, "alice", "bob", "carol")
	ctx := t.Context()

	dave := h.connect(t, "dave")
	bob := h.connect(t, "bob")

	conv, _, err := h.svc.CreateConversation(ctx, CreateRequest{Creator: "alice", Participants: []string{"bob", "carol"}})
	require.NoError(t, err)

	_, err = h.svc.AddMember(ctx, "bob", conv.ID, "dave")
	assert.ErrorIs(t, err, ErrNotAdmin)

	updated, err := h.svc.AddMember(ctx, "alice", conv.ID, "dave")
	require.NoError(t, err)
	assert.Contains(t, updated.Participants, "dave")
	assert.Equal(t, []string{conv.ID}, h.registry.RoomsOf(dave.ID()), "new member joins the room immediately")

	_, err = h.svc.AddMember(ctx, "alice", conv.ID, "dave")
	assert.ErrorIs(t, err, ErrMembership)

	_, err = h.svc.RemoveMember(ctx, "alice", conv.ID, "alice")
	assert.ErrorIs(t, err, ErrMembership)

	_, err = h.svc.RemoveMember(ctx, "alice", conv.ID, "zed")
	assert.ErrorIs(t, err, ErrMembership)

	_, err = h.svc.RemoveMember(ctx, "alice", conv.ID, "bob")
	require.NoError(t, err)
	assert.Empty(t, h.registry.RoomsOf(bob.ID()), "removed member leaves the room immediately")

	_, err = h.svc.SendMessage(ctx, "alice", conv.ID, "after removal", "")
	require.NoError(t, err)
	assert.Empty(t, newMessages(bob))
	assert.Len(t, newMessages(dave), 1)
}

func TestRenameGroup(t *testing.T) {
	h := newHarness(t, createTestStore(t))
	h.befriend(t, "alice", "bob", "carol")
	ctx := t.Context()

	group, _, err := h.svc.CreateConversation(ctx, CreateRequest{Creator: "alice", Participants: []string{"bob", "carol"}})
	require.NoError(t, err)

	renamed, err := h.svc.RenameGroup(ctx, "alice", group.ID, "Weekend plans")
	require.NoError(t, err)
	assert.Equal(t, "Weekend plans", renamed.Name)

	_, err = h.svc.RenameGroup(ctx, "bob", group.ID, "Hijacked")
	assert.ErrorIs(t, err, ErrNotAdmin)

	direct, _, err := h.svc.CreateConversation(ctx, CreateRequest{Creator: "alice", Participants: []string{"bob"}})
	require.NoError(t, err)
	_, err = h.svc.RenameGroup(ctx, "alice", direct.ID, "x")
	assert.ErrorIs(t, err, ErrMembership)

	_, err = h.svc.RenameGroup(ctx, "alice", "missing", "x")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEnsureDefaultBot(t *testing.T) {
	h := newHarness(t, createTestStore(t))
	ctx := t.Context()

	bot, err := h.svc.EnsureDefaultBot(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, bot, "no key means no default bot")

	bot, err = h.svc.EnsureDefaultBot(ctx, placeholderKey)
	require.NoError(t, err)
	assert.Nil(t, bot)

	bot, err = h.svc.EnsureDefaultBot(ctx, "gm-key")
	require.NoError(t, err)
	require.NotNil(t, bot)
	assert.Equal(t, DefaultBotName, bot.Name)
	assert.Equal(t, DefaultBotModel, bot.Model)
	assert.NotContains(t, bot.EncryptedKey, "gm-key")

	plain, err := h.codec.Open(bot.EncryptedKey)
	require.NoError(t, err)
	assert.Equal(t, "gm-key", plain)

	// Concurrent callers all see the same singleton.
	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := h.svc.EnsureDefaultBot(ctx, "gm-key")
			if err == nil && b != nil {
				ids[i] = b.ID
			}
		}()
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, bot.ID, id)
	}
}

func TestBots_CreateListDelete(t *testing.T) {
	h := newHarness(t, createTestStore(t))
	ctx := t.Context()

	_, err := h.svc.EnsureDefaultBot(ctx, "gm-key")
	require.NoError(t, err)

	_, err = h.svc.CreateBot(ctx, "alice", "Helper", "llama-99", "sk")
	assert.ErrorIs(t, err, dispatch.ErrUnsupportedModel)

	_, err = h.svc.CreateBot(ctx, "alice", "", "gpt-4o", "sk")
	assert.ErrorIs(t, err, ErrInvalidInput)

	bot, err := h.svc.CreateBot(ctx, "alice", "Helper", "gpt-4o", "sk-alice")
	require.NoError(t, err)
	assert.NotEqual(t, "sk-alice", bot.EncryptedKey)

	list, err := h.svc.ListBots(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = h.svc.ListBots(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, list, 1, "bob only sees the default bot")

	assert.ErrorIs(t, h.svc.DeleteBot(ctx, "bob", bot.ID), store.ErrNotFound)
	require.NoError(t, h.svc.DeleteBot(ctx, "alice", bot.ID))
}

func TestSendToBot_Success(t *testing.T) {
	h := newHarness(t, createTestStore(t))
	ctx := t.Context()

	bot, err := h.svc.CreateBot(ctx, "alice", "Helper", "gpt-4o", "sk-alice")
	require.NoError(t, err)
	alice := h.connect(t, "alice")
	other := h.connect(t, "alice")

	ex, err := h.svc.SendToBot(ctx, "alice", bot.ID, "ping")
	require.NoError(t, err)
	require.NotNil(t, ex.Reply)
	assert.Equal(t, "beep", ex.Reply.Text)
	assert.Equal(t, store.SenderBot, ex.Reply.SenderKind)
	assert.Equal(t, "alice", ex.Reply.ReceiverID)

	for _, c := range []*presence.Connection{alice, other} {
		got := newMessages(c)
		require.Len(t, got, 2, "human echo then reply on every connection")
		assert.Equal(t, ex.Human.ID, got[0].ID)
		assert.Equal(t, ex.Reply.ID, got[1].ID)
	}

	history, err := h.svc.BotMessages(ctx, "alice", bot.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "ping", history[0].Text)
	assert.Equal(t, "beep", history[1].Text)
}

func TestSendToBot_HistoryExcludesNewMessageAndIsBounded(t *testing.T) {
	h := newHarness(t, createTestStore(t))
	ctx := t.Context()

	bot, err := h.svc.CreateBot(ctx, "alice", "Helper", "gpt-4o", "sk-alice")
	require.NoError(t, err)

	for range 7 {
		_, err := h.svc.SendToBot(ctx, "alice", bot.ID, "turn")
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}

	ex, err := h.svc.SendToBot(ctx, "alice", bot.ID, "latest")
	require.NoError(t, err)

	require.Len(t, h.disp.history, dispatch.DefaultHistoryLimit)
	for _, m := range h.disp.history {
		assert.NotEqual(t, ex.Human.ID, m.ID)
	}
}

func TestSendToBot_ProviderFailureKeepsHumanMessage(t *testing.T) {
	h := newHarness(t, createTestStore(t))
	ctx := t.Context()

	bot, err := h.svc.CreateBot(ctx, "alice", "Helper", "gpt-4o", "sk-alice")
	require.NoError(t, err)
	alice := h.connect(t, "alice")

	h.disp.err = &dispatch.ProviderError{Model: dispatch.ModelGPT4o, Provider: "openai", StatusCode: 500, Err: errors.New("upstream")}

	ex, err := h.svc.SendToBot(ctx, "alice", bot.ID, "ping")
	require.ErrorIs(t, err, dispatch.ErrProviderDispatch)
	require.NotNil(t, ex)
	assert.Nil(t, ex.Reply)

	got := newMessages(alice)
	require.Len(t, got, 1)
	assert.Equal(t, ex.Human.ID, got[0].ID)

	history, err := h.svc.BotMessages(ctx, "alice", bot.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, store.SenderHuman, history[0].SenderKind)
}

func TestSendToBot_SurvivesCallerCancellation(t *testing.T) {
	h := newHarness(t, createTestStore(t))

	bot, err := h.svc.CreateBot(t.Context(), "alice", "Helper", "gpt-4o", "sk-alice")
	require.NoError(t, err)

	h.disp.block = make(chan struct{})
	ctx, cancel := context.WithCancel(t.Context())

	done := make(chan *BotExchange, 1)
	go func() {
		ex, _ := h.svc.SendToBot(ctx, "alice", bot.ID, "ping")
		done <- ex
	}()

	// Cancel while the provider call is in flight, then let it finish.
	time.Sleep(20 * time.Millisecond)
	cancel()
	close(h.disp.block)

	ex := <-done
	require.NotNil(t, ex)
	require.NotNil(t, ex.Reply, "reply is recorded even though the caller went away")
	assert.NoError(t, h.disp.lastCtx.Err())
}

func TestSendToBot_Visibility(t *testing.T) {
	h := newHarness(t, createTestStore(t))
	ctx := t.Context()

	bot, err := h.svc.CreateBot(ctx, "alice", "Helper", "gpt-4o", "sk-alice")
	require.NoError(t, err)

	_, err = h.svc.SendToBot(ctx, "bob", bot.ID, "ping")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = h.svc.BotMessages(ctx, "bob", bot.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = h.svc.SendToBot(ctx, "alice", bot.ID, "")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Zero(t, h.disp.calls)
}
