package hub

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/logging"
)

// fakeSession records delivered frames and can be made to fail.
type fakeSession struct {
	id string

	mu       sync.Mutex
	frames   []Frame
	sendErr  error
	closed   bool
	sendSeen int
}

func (f *fakeSession) ID() string { return f.id }

func (f *fakeSession) Send(frame Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendSeen++
	if f.sendErr != nil {
		return f.sendErr
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSession) received() []Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Frame(nil), f.frames...)
}

func (f *fakeSession) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func newTestHub() *Hub {
	return New(logging.NewNop(), nil)
}

func TestRegister_AndCount(t *testing.T) {
	h := newTestHub()
	ctx := context.Background()

	assert.Equal(t, 0, h.Count())

	s1 := &fakeSession{id: "s1"}
	s2 := &fakeSession{id: "s2"}
	h.Register(ctx, s1)
	h.Register(ctx, s2)
	assert.Equal(t, 2, h.Count())

	// Re-registering the same id replaces, not duplicates.
	h.Register(ctx, &fakeSession{id: "s1"})
	assert.Equal(t, 2, h.Count())
}

func TestUnregister(t *testing.T) {
	h := newTestHub()
	ctx := context.Background()

	s := &fakeSession{id: "s1"}
	h.Register(ctx, s)
	h.Unregister(ctx, s)
	assert.Equal(t, 0, h.Count())

	// Absent session is a no-op.
	h.Unregister(ctx, s)
	assert.Equal(t, 0, h.Count())
}

func TestBroadcast_AllSessionsReceive(t *testing.T) {
	h := newTestHub()
	ctx := context.Background()

	s1 := &fakeSession{id: "s1"}
	s2 := &fakeSession{id: "s2"}
	h.Register(ctx, s1)
	h.Register(ctx, s2)

	h.Broadcast(ctx, SyncUpdate("person_created", map[string]string{"id": "p1"}))

	require.Len(t, s1.received(), 1)
	require.Len(t, s2.received(), 1)
	assert.Equal(t, TypeSyncUpdate, s1.received()[0].Type)
	assert.Equal(t, "person_created", s1.received()[0].Event)
}

func TestBroadcast_FailedSessionIsIsolated(t *testing.T) {
	h := newTestHub()
	ctx := context.Background()

	healthy1 := &fakeSession{id: "s1"}
	failing := &fakeSession{id: "s2", sendErr: errors.New("connection reset")}
	healthy2 := &fakeSession{id: "s3"}
	h.Register(ctx, healthy1)
	h.Register(ctx, failing)
	h.Register(ctx, healthy2)

	h.Broadcast(ctx, Pong())

	// The two healthy sessions still got the frame.
	assert.Len(t, healthy1.received(), 1)
	assert.Len(t, healthy2.received(), 1)

	// The failing one was removed and closed.
	assert.Equal(t, 2, h.Count())
	assert.True(t, failing.isClosed())
	assert.False(t, healthy1.isClosed())

	// The next broadcast skips it entirely.
	h.Broadcast(ctx, Pong())
	failing.mu.Lock()
	seen := failing.sendSeen
	failing.mu.Unlock()
	assert.Equal(t, 1, seen)
}

func TestBroadcast_EmptyHub(t *testing.T) {
	h := newTestHub()
	h.Broadcast(context.Background(), Pong())
	assert.Equal(t, 0, h.Count())
}

func TestUnicast(t *testing.T) {
	h := newTestHub()
	ctx := context.Background()

	target := &fakeSession{id: "s1"}
	other := &fakeSession{id: "s2"}
	h.Register(ctx, target)
	h.Register(ctx, other)

	h.Unicast(ctx, target, Pong())

	assert.Len(t, target.received(), 1)
	assert.Len(t, other.received(), 0)
}

func TestUnicast_FailureEvicts(t *testing.T) {
	h := newTestHub()
	ctx := context.Background()

	failing := &fakeSession{id: "s1", sendErr: errors.New("broken pipe")}
	h.Register(ctx, failing)

	h.Unicast(ctx, failing, Pong())

	assert.Equal(t, 0, h.Count())
	assert.True(t, failing.isClosed())
}

func TestConcurrentRegisterBroadcast(t *testing.T) {
	h := newTestHub()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			s := &fakeSession{id: string(rune('a' + n))}
			h.Register(ctx, s)
			h.Broadcast(ctx, Pong())
			h.Unregister(ctx, s)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, h.Count())
}

func TestFrameHelpers(t *testing.T) {
	assert.Equal(t, Frame{Type: TypePong}, Pong())

	f := SyncUpdate("person_deleted", map[string]string{"id": "p1"})
	assert.Equal(t, TypeSyncUpdate, f.Type)
	assert.Equal(t, "person_deleted", f.Event)

	pr := PersonRegistered(map[string]string{"id": "p1"})
	assert.Equal(t, TypePersonRegistered, pr.Type)
	assert.Empty(t, pr.Event)
}
