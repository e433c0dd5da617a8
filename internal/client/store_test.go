// ABOUTME: Tests for the client reconciliation store
// ABOUTME: Covers ack/echo ordering, own-echo suppression, rollback and preview fields

package client

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/livechat-gateway/internal/store"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(identityID string, role store.Role) *Store {
	s := NewStore(identityID, role, testLogger())
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	return s
}

func durable(id, conversationID, userID string, role store.Role, content string, at time.Time) *store.Message {
	return &store.Message{
		ID:             id,
		ConversationID: conversationID,
		UserID:         userID,
		SenderRole:     role,
		Content:        content,
		CreatedAt:      at,
	}
}

func ids(msgs []LocalMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestStore_AckThenEcho(t *testing.T) {
	s := newTestStore("v1", store.RoleVisitor)
	s.Ensure("c1")

	p := s.BeginSend("c1", "hello")
	msgs := s.Messages("c1")
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsTemporary())
	assert.Equal(t, StatePending, msgs[0].State)

	conv, _ := s.Conversation("c1")
	assert.Equal(t, "hello", conv.LastMessage)

	m := durable("m1", "c1", "v1", store.RoleVisitor, "hello", base.Add(90*time.Second))
	assert.Equal(t, OutcomeReplaced, s.Confirm(p, m))

	echo := *m
	echo.ClientMessageID = p.ClientMessageID
	assert.Equal(t, OutcomeDuplicate, s.Receive(&echo))

	msgs = s.Messages("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, StateConfirmed, msgs[0].State)
	assert.Equal(t, p.ClientMessageID, msgs[0].ClientMessageID)
}

func TestStore_EchoThenAck(t *testing.T) {
	s := newTestStore("v1", store.RoleVisitor)
	s.Ensure("c1")
	p := s.BeginSend("c1", "hello")

	echo := durable("m1", "c1", "v1", store.RoleVisitor, "hello", base.Add(90*time.Second))
	echo.ClientMessageID = p.ClientMessageID
	assert.Equal(t, OutcomeReplaced, s.Receive(echo))

	assert.Equal(t, OutcomeDuplicate, s.Confirm(p, durable("m1", "c1", "v1", store.RoleVisitor, "hello", echo.CreatedAt)))

	assert.Equal(t, []string{"m1"}, ids(s.Messages("c1")))
}

func TestStore_EchoMatchedByContent(t *testing.T) {
	s := newTestStore("v1", store.RoleVisitor)
	s.Ensure("c1")
	first := s.BeginSend("c1", "same")
	second := s.BeginSend("c1", "same")

	// Echo without a client id replaces the oldest matching temp.
	assert.Equal(t, OutcomeReplaced, s.Receive(durable("m1", "c1", "v1", store.RoleVisitor, "same", base.Add(90*time.Second))))

	msgs := s.Messages("c1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, second.TempID, msgs[1].ID)

	// The first send's temp is gone, so its ack inserts nothing new.
	assert.Equal(t, OutcomeDuplicate, s.Confirm(first, durable("m1", "c1", "v1", store.RoleVisitor, "same", base.Add(90*time.Second))))
	assert.Equal(t, OutcomeReplaced, s.Confirm(second, durable("m2", "c1", "v1", store.RoleVisitor, "same", base.Add(150*time.Second))))
	assert.Equal(t, []string{"m1", "m2"}, ids(s.Messages("c1")))
}

func TestStore_SuppressesOwnEchoWithoutPending(t *testing.T) {
	s := newTestStore("v1", store.RoleVisitor)
	s.Ensure("c1")

	// Sent from another tab of the same identity.
	assert.Equal(t, OutcomeSuppressed, s.Receive(durable("m1", "c1", "v1", store.RoleVisitor, "hi", base)))
	assert.Empty(t, s.Messages("c1"))

	// No author id falls back to the role.
	assert.Equal(t, OutcomeSuppressed, s.Receive(durable("m2", "c1", "", store.RoleVisitor, "hi", base)))

	// Other participants are always inserted.
	assert.Equal(t, OutcomeInserted, s.Receive(durable("m3", "c1", "a1", store.RoleAgent, "hello", base)))
	assert.Equal(t, OutcomeDuplicate, s.Receive(durable("m3", "c1", "a1", store.RoleAgent, "hello", base)))
	assert.Equal(t, []string{"m3"}, ids(s.Messages("c1")))
}

func TestStore_ContentMatchRequiresSameRole(t *testing.T) {
	s := newTestStore("", store.RoleAgent)
	s.Ensure("c1")
	s.BeginSend("c1", "ok")

	// A visitor saying the same thing is not our echo.
	assert.Equal(t, OutcomeInserted, s.Receive(durable("m1", "c1", "", store.RoleVisitor, "ok", base)))
	msgs := s.Messages("c1")
	require.Len(t, msgs, 2)
	assert.Equal(t, StatePending, msgs[1].State)
}

func TestStore_ReceiveIgnoresUncachedConversation(t *testing.T) {
	s := newTestStore("v1", store.RoleVisitor)
	assert.Equal(t, OutcomeIgnored, s.Receive(durable("m1", "nope", "a1", store.RoleAgent, "x", base)))
	_, ok := s.Conversation("nope")
	assert.False(t, ok)
}

func TestStore_MessagesOrderedByCreatedAt(t *testing.T) {
	s := newTestStore("v1", store.RoleVisitor)
	s.Ensure("c1")

	s.Receive(durable("m3", "c1", "a1", store.RoleAgent, "third", base.Add(3*time.Second)))
	s.Receive(durable("m1", "c1", "a1", store.RoleAgent, "first", base.Add(1*time.Second)))
	s.Receive(durable("m2", "c1", "a1", store.RoleAgent, "second", base.Add(2*time.Second)))

	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(s.Messages("c1")))
	conv, _ := s.Conversation("c1")
	assert.Equal(t, "third", conv.LastMessage)
	assert.Equal(t, base.Add(3*time.Second), conv.LastMessageTime)
}

func TestStore_RollbackKeepsInterleavedMessages(t *testing.T) {
	s := newTestStore("v1", store.RoleVisitor)
	s.Ensure("c1")
	s.Receive(durable("m1", "c1", "a1", store.RoleAgent, "welcome", base))

	p := s.BeginSend("c1", "doomed")
	s.Receive(durable("m2", "c1", "a1", store.RoleAgent, "still there?", base.Add(30*time.Second)))

	failed, ok := s.Rollback(p)
	require.True(t, ok)
	assert.Equal(t, StateFailed, failed.State)
	assert.Equal(t, "doomed", failed.Content)

	assert.Equal(t, []string{"m1", "m2"}, ids(s.Messages("c1")))
	conv, _ := s.Conversation("c1")
	assert.Equal(t, "still there?", conv.LastMessage)

	// A second rollback has nothing to remove.
	_, ok = s.Rollback(p)
	assert.False(t, ok)
}

func TestStore_RollbackRestoresSnapshotPreview(t *testing.T) {
	s := newTestStore("v1", store.RoleVisitor)
	s.Upsert(&store.Conversation{
		ID:          "c1",
		Status:      store.StatusActive,
		UserID:      "v1",
		Title:       "Help",
		LastMessage: durable("m0", "c1", "a1", store.RoleAgent, "earlier", base.Add(-time.Hour)),
	}, nil)

	p := s.BeginSend("c1", "doomed")
	conv, _ := s.Conversation("c1")
	assert.Equal(t, "doomed", conv.LastMessage)

	_, ok := s.Rollback(p)
	require.True(t, ok)

	conv, _ = s.Conversation("c1")
	assert.Empty(t, conv.Messages)
	assert.Equal(t, "earlier", conv.LastMessage)
	assert.Equal(t, base.Add(-time.Hour), conv.LastMessageTime)
}

func TestStore_LateEchoOfRolledBackSendIsKept(t *testing.T) {
	s := newTestStore("v1", store.RoleVisitor)
	s.Ensure("c1")

	// The request timed out locally but the server still persisted it.
	p := s.BeginSend("c1", "slow one")
	_, ok := s.Rollback(p)
	require.True(t, ok)
	assert.Empty(t, s.Messages("c1"))

	echo := durable("m1", "c1", "v1", store.RoleVisitor, "slow one", base.Add(time.Minute))
	echo.ClientMessageID = p.ClientMessageID
	assert.Equal(t, OutcomeInserted, s.Receive(echo))
	assert.Equal(t, OutcomeDuplicate, s.Receive(echo))

	msgs := s.Messages("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, StateConfirmed, msgs[0].State)

	// Other own echoes with nothing pending are still suppressed.
	other := durable("m2", "c1", "v1", store.RoleVisitor, "from another tab", base.Add(2*time.Minute))
	other.ClientMessageID = "elsewhere"
	assert.Equal(t, OutcomeSuppressed, s.Receive(other))
}

func TestStore_RemoveForgetsRolledBackSends(t *testing.T) {
	s := newTestStore("v1", store.RoleVisitor)
	s.Ensure("c1")
	p := s.BeginSend("c1", "slow one")
	_, ok := s.Rollback(p)
	require.True(t, ok)

	s.Remove("c1")
	s.Ensure("c1")

	echo := durable("m1", "c1", "v1", store.RoleVisitor, "slow one", base)
	echo.ClientMessageID = p.ClientMessageID
	assert.Equal(t, OutcomeSuppressed, s.Receive(echo))
}

func TestStore_RollbackAfterConfirmIsNoop(t *testing.T) {
	s := newTestStore("v1", store.RoleVisitor)
	s.Ensure("c1")
	p := s.BeginSend("c1", "hello")
	s.Confirm(p, durable("m1", "c1", "v1", store.RoleVisitor, "hello", base))

	_, ok := s.Rollback(p)
	assert.False(t, ok)
	assert.Equal(t, []string{"m1"}, ids(s.Messages("c1")))
}

func TestStore_UpsertReconcilesFetchedHistory(t *testing.T) {
	s := newTestStore("v1", store.RoleVisitor)
	s.Ensure("c1")
	p := s.BeginSend("c1", "hello")

	conv := &store.Conversation{ID: "c1", Status: store.StatusActive, UserID: "v1", AgentID: "a1"}
	history := []*store.Message{
		durable("m0", "c1", "a1", store.RoleAgent, "welcome", base),
		durable("m1", "c1", "v1", store.RoleVisitor, "hello", base.Add(2*time.Minute)),
		durable("m2", "c1", "v1", store.RoleVisitor, "from another tab", base.Add(3*time.Minute)),
	}
	s.Upsert(conv, history)

	// Own history is loaded, not suppressed, and the pending temp is replaced.
	assert.Equal(t, []string{"m0", "m1", "m2"}, ids(s.Messages("c1")))
	assert.Equal(t, OutcomeDuplicate, s.Confirm(p, history[1]))

	// Fetching again adds nothing.
	s.Upsert(conv, history)
	assert.Len(t, s.Messages("c1"), 3)

	got, _ := s.Conversation("c1")
	assert.Equal(t, store.StatusActive, got.Status)
	assert.Equal(t, "a1", got.AgentID)
}

// Every ordering of ack, echo and an unrelated push leaves exactly one copy
// of each durable message.
func TestStore_NoDuplicatesAcrossOrderings(t *testing.T) {
	orders := [][]string{
		{"ack", "echo", "other"},
		{"echo", "ack", "other"},
		{"other", "ack", "echo"},
		{"other", "echo", "ack"},
		{"ack", "other", "echo"},
		{"echo", "other", "ack"},
	}

	for _, order := range orders {
		t.Run(fmt.Sprint(order), func(t *testing.T) {
			s := newTestStore("v1", store.RoleVisitor)
			s.Ensure("c1")
			p := s.BeginSend("c1", "hi")

			mine := durable("m1", "c1", "v1", store.RoleVisitor, "hi", base.Add(90*time.Second))
			echo := *mine
			echo.ClientMessageID = p.ClientMessageID
			other := durable("m2", "c1", "a1", store.RoleAgent, "hi", base.Add(2*time.Minute))

			for _, step := range order {
				switch step {
				case "ack":
					s.Confirm(p, mine)
				case "echo":
					s.Receive(&echo)
				case "other":
					s.Receive(other)
				}
			}

			assert.Equal(t, []string{"m1", "m2"}, ids(s.Messages("c1")))
			for _, m := range s.Messages("c1") {
				assert.Equal(t, StateConfirmed, m.State)
			}
		})
	}
}

func TestStore_ConversationsByRecentActivity(t *testing.T) {
	s := newTestStore("a1", store.RoleAgent)
	s.Ensure("quiet")
	s.Ensure("c1")
	s.Ensure("c2")
	s.Receive(durable("m1", "c1", "v1", store.RoleVisitor, "old", base))
	s.Receive(durable("m2", "c2", "v2", store.RoleVisitor, "new", base.Add(time.Minute)))

	var order []string
	for _, c := range s.Conversations() {
		order = append(order, c.ID)
	}
	assert.Equal(t, []string{"c2", "c1", "quiet"}, order)

	assert.True(t, s.SetStatus("c1", store.StatusClosed))
	assert.False(t, s.SetStatus("missing", store.StatusClosed))
	s.Remove("c2")
	assert.Len(t, s.Conversations(), 2)
}

func TestOutcome_String(t *testing.T) {
	tests := map[Outcome]string{
		OutcomeIgnored:    "ignored",
		OutcomeInserted:   "inserted",
		OutcomeReplaced:   "replaced",
		OutcomeDuplicate:  "duplicate",
		OutcomeSuppressed: "suppressed",
		Outcome(42):       "unknown",
	}
	for o, want := range tests {
		if got := o.String(); got != want {
			t.Errorf("Outcome(%d).String() = %q, want %q", int(o), got, want)
		}
	}
}
