// ABOUTME: Tests for room multicast
// ABOUTME: Covers join/leave, exclusion, slow members, LeaveAll and concurrent publishing

package rooms

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chanMember is a Member backed by a buffered channel.
type chanMember struct {
	id string
	ch chan *Event
}

func newMember(id string, buffer int) *chanMember {
	return &chanMember{id: id, ch: make(chan *Event, buffer)}
}

func (m *chanMember) MemberID() string { return m.id }

func (m *chanMember) Deliver(evt *Event) bool {
	select {
	case m.ch <- evt:
		return true
	default:
		return false
	}
}

func receive(t *testing.T, m *chanMember) *Event {
	t.Helper()
	select {
	case evt := <-m.ch:
		return evt
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event on %s", m.id)
		return nil
	}
}

func TestBroadcaster_RoomMembersReceiveEvent(t *testing.T) {
	b := NewBroadcaster(nil)
	m1 := newMember("m1", 4)
	m2 := newMember("m2", 4)
	outsider := newMember("m3", 4)

	b.Join(ConversationRoom("c1"), m1)
	b.Join(ConversationRoom("c1"), m2)
	b.Join(ConversationRoom("c2"), outsider)

	n := b.Publish(ConversationRoom("c1"), &Event{Name: "conversation:c1:message", Payload: "hi"}, "")
	assert.Equal(t, 2, n)
	assert.Equal(t, "conversation:c1:message", receive(t, m1).Name)
	assert.Equal(t, "conversation:c1:message", receive(t, m2).Name)
	assert.Empty(t, outsider.ch)
}

func TestBroadcaster_ExcludeMember(t *testing.T) {
	b := NewBroadcaster(nil)
	m1 := newMember("m1", 4)
	m2 := newMember("m2", 4)
	b.Join(AgentsRoom, m1)
	b.Join(AgentsRoom, m2)

	n := b.Publish(AgentsRoom, &Event{Name: "x"}, "m1")
	assert.Equal(t, 1, n)
	assert.Empty(t, m1.ch)
	receive(t, m2)
}

func TestBroadcaster_SlowMemberDropsWithoutBlocking(t *testing.T) {
	b := NewBroadcaster(nil)
	slow := newMember("slow", 1)
	fast := newMember("fast", 10)
	b.Join(UserRoom("u1"), slow)
	b.Join(UserRoom("u1"), fast)

	for i := range 5 {
		b.Publish(UserRoom("u1"), &Event{Name: fmt.Sprintf("e%d", i)}, "")
	}

	assert.Len(t, slow.ch, 1)
	assert.Len(t, fast.ch, 5)
}

func TestBroadcaster_LeaveAndLeaveAll(t *testing.T) {
	b := NewBroadcaster(nil)
	m := newMember("m1", 4)
	b.Join(ConversationRoom("c1"), m)
	b.Join(ConversationRoom("c2"), m)
	b.Join(UserRoom("u1"), m)
	b.Join(UserRoom("u1"), m)

	assert.Equal(t, 1, b.Members(UserRoom("u1")))

	b.Leave(ConversationRoom("c1"), m.id)
	b.Leave(ConversationRoom("c1"), m.id)
	assert.Equal(t, 0, b.Members(ConversationRoom("c1")))
	assert.ElementsMatch(t, []string{ConversationRoom("c2"), UserRoom("u1")}, b.Rooms(m.id))

	left := b.LeaveAll(m.id)
	assert.ElementsMatch(t, []string{ConversationRoom("c2"), UserRoom("u1")}, left)
	assert.Empty(t, b.Rooms(m.id))
	assert.Equal(t, 0, b.Publish(UserRoom("u1"), &Event{Name: "x"}, ""))
}

func TestBroadcaster_PublishPreservesOrderPerMember(t *testing.T) {
	b := NewBroadcaster(nil)
	m := newMember("m1", 100)
	b.Join(ConversationRoom("c1"), m)

	for i := range 50 {
		b.Publish(ConversationRoom("c1"), &Event{Name: "msg", Payload: i}, "")
	}
	for i := range 50 {
		require.Equal(t, i, receive(t, m).Payload)
	}
}

func TestBroadcaster_ConcurrentJoinPublishLeave(t *testing.T) {
	b := NewBroadcaster(nil)
	var wg sync.WaitGroup

	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m := newMember(fmt.Sprintf("m%d", i), 64)
			b.Join(AgentsRoom, m)
			b.Publish(AgentsRoom, &Event{Name: "ping"}, "")
			b.LeaveAll(m.id)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, b.Members(AgentsRoom))
}
