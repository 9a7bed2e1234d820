package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coachwire/internal/config"
	"coachwire/internal/pipeline"
	"coachwire/internal/protocol"
	"coachwire/internal/session"
	"coachwire/internal/store"
	"coachwire/pkg/interfaces"
	"coachwire/pkg/types"
)

type stubGenerator struct{}

func (stubGenerator) Generate(context.Context, []interfaces.ChatMessage) (string, error) {
	return "generated", nil
}

type stubSynthesizer struct{}

func (stubSynthesizer) Synthesize(context.Context, string, string) ([]byte, error) {
	return []byte("audio"), nil
}

// recordingSubscriber collects broadcast events in arrival order.
type recordingSubscriber struct {
	userID string
	mu     sync.Mutex
	events []protocol.Outbound
}

func (s *recordingSubscriber) Send(ev protocol.Outbound) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSubscriber) UserID() string { return s.userID }

func (s *recordingSubscriber) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Kind()
	}
	return out
}

func testRegistry(t *testing.T, idleExpiry time.Duration) (*Registry, interfaces.SessionStore) {
	t.Helper()
	cfg := config.Default().Pipeline
	cfg.RetryDelay = 10 * time.Millisecond
	st := store.NewMemory()
	reg := New(pipeline.New(stubGenerator{}, stubSynthesizer{}, cfg), st, idleExpiry)
	return reg, st
}

func seedSession(t *testing.T, st interfaces.SessionStore, id, status string) {
	t.Helper()
	require.NoError(t, st.CreateSession(context.Background(), &types.Session{
		ID:          id,
		Kind:        types.KindInterview,
		OwnerUserID: "owner-1",
		Config: types.SessionConfig{
			JobDescription:  "Go engineer",
			InterviewerType: "technical",
		},
		StartedAt: time.Now(),
		Status:    status,
	}))
}

func TestRegisterSharesOneMachine(t *testing.T) {
	reg, st := testRegistry(t, time.Minute)
	seedSession(t, st, "sess-1", types.StatusIdle)

	owner := &recordingSubscriber{userID: "owner-1"}
	observer := &recordingSubscriber{userID: "observer-1"}

	m1, err := reg.Register(context.Background(), "sess-1", owner)
	require.NoError(t, err)
	m2, err := reg.Register(context.Background(), "sess-1", observer)
	require.NoError(t, err)

	assert.Same(t, m1, m2)
	assert.Equal(t, 2, reg.ConnectionCount("sess-1"))
}

func TestRegisterUnknownSession(t *testing.T) {
	reg, _ := testRegistry(t, time.Minute)

	_, err := reg.Register(context.Background(), "missing", &recordingSubscriber{userID: "u"})
	assert.ErrorIs(t, err, interfaces.ErrSessionNotFound)
}

func TestRegisterNilSubscriber(t *testing.T) {
	reg, st := testRegistry(t, time.Minute)
	seedSession(t, st, "sess-1", types.StatusIdle)

	_, err := reg.Register(context.Background(), "sess-1", nil)
	assert.ErrorIs(t, err, ErrNilSubscriber)
}

func TestConcurrentRegisterSingleMachine(t *testing.T) {
	reg, st := testRegistry(t, time.Minute)
	seedSession(t, st, "sess-1", types.StatusIdle)

	const n = 16
	machines := make([]interface{}, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := reg.Register(context.Background(), "sess-1", &recordingSubscriber{userID: "owner-1"})
			assert.NoError(t, err)
			machines[i] = m
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Same(t, machines[0], machines[i])
	}
	assert.Equal(t, n, reg.ConnectionCount("sess-1"))
}

func TestBroadcastIdenticalOrder(t *testing.T) {
	reg, st := testRegistry(t, time.Minute)
	seedSession(t, st, "sess-1", types.StatusIdle)

	owner := &recordingSubscriber{userID: "owner-1"}
	observer := &recordingSubscriber{userID: "observer-1"}
	machine, err := reg.Register(context.Background(), "sess-1", owner)
	require.NoError(t, err)
	_, err = reg.Register(context.Background(), "sess-1", observer)
	require.NoError(t, err)

	require.NoError(t, machine.Start(nil))
	require.NoError(t, machine.SubmitTurn("hello"))

	require.Eventually(t, func() bool {
		kinds := owner.kinds()
		return len(kinds) > 0 && kinds[len(kinds)-1] == protocol.TypeTurnComplete
	}, 2*time.Second, 10*time.Millisecond)

	want := []string{
		protocol.TypeSessionStarted,
		protocol.TypeTurnText,
		protocol.TypeTurnAudio,
		protocol.TypeTurnComplete,
	}
	assert.Equal(t, want, owner.kinds())
	assert.Equal(t, want, observer.kinds())
}

func TestIdleExpiryAbortsSession(t *testing.T) {
	reg, st := testRegistry(t, 50*time.Millisecond)
	seedSession(t, st, "sess-1", types.StatusIdle)

	owner := &recordingSubscriber{userID: "owner-1"}
	machine, err := reg.Register(context.Background(), "sess-1", owner)
	require.NoError(t, err)
	require.NoError(t, machine.Start(nil))

	reg.Deregister("sess-1", owner)

	require.Eventually(t, func() bool {
		_, ok := reg.Lookup("sess-1")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		sess, err := st.GetSession(context.Background(), "sess-1")
		return err == nil && sess.Status == types.StatusAborted
	}, 2*time.Second, 10*time.Millisecond)

	sess, err := st.GetSession(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "idle timeout", sess.AbortReason)
}

func TestReattachCancelsIdleExpiry(t *testing.T) {
	reg, st := testRegistry(t, 100*time.Millisecond)
	seedSession(t, st, "sess-1", types.StatusIdle)

	owner := &recordingSubscriber{userID: "owner-1"}
	machine, err := reg.Register(context.Background(), "sess-1", owner)
	require.NoError(t, err)
	require.NoError(t, machine.Start(nil))

	reg.Deregister("sess-1", owner)
	_, err = reg.Register(context.Background(), "sess-1", owner)
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)

	m, ok := reg.Lookup("sess-1")
	require.True(t, ok)
	assert.Same(t, machine, m)
	sess, err := st.GetSession(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.NotEqual(t, types.StatusAborted, sess.Status)
}

// An expiry callback that fired before a reattachment stopped its timer must
// not abort the session: its generation is stale by the time it runs.
func TestStaleExpiryCallbackIsIgnored(t *testing.T) {
	reg, st := testRegistry(t, time.Hour)
	seedSession(t, st, "sess-1", types.StatusIdle)

	owner := &recordingSubscriber{userID: "owner-1"}
	machine, err := reg.Register(context.Background(), "sess-1", owner)
	require.NoError(t, err)
	require.NoError(t, machine.Start(nil))

	// Arm the timer, then reattach before it can run.
	reg.Deregister("sess-1", owner)
	reg.mu.Lock()
	gen := reg.entries["sess-1"].idleGen
	reg.mu.Unlock()
	_, err = reg.Register(context.Background(), "sess-1", owner)
	require.NoError(t, err)

	// The callback for the stopped timer runs anyway.
	reg.expire("sess-1", gen)

	assert.Equal(t, session.StateActive, machine.State())
	_, ok := reg.Lookup("sess-1")
	assert.True(t, ok)
	sess, err := st.GetSession(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.NotEqual(t, types.StatusAborted, sess.Status)
}

// A stale callback must not steal the window of a newer timer either: after
// an attach and deregister cycle the re-armed timer owns the expiry.
func TestStaleExpiryCallbackDoesNotPreemptRearmedTimer(t *testing.T) {
	reg, st := testRegistry(t, time.Hour)
	seedSession(t, st, "sess-1", types.StatusIdle)

	owner := &recordingSubscriber{userID: "owner-1"}
	machine, err := reg.Register(context.Background(), "sess-1", owner)
	require.NoError(t, err)
	require.NoError(t, machine.Start(nil))

	reg.Deregister("sess-1", owner)
	reg.mu.Lock()
	staleGen := reg.entries["sess-1"].idleGen
	reg.mu.Unlock()

	_, err = reg.Register(context.Background(), "sess-1", owner)
	require.NoError(t, err)
	reg.Deregister("sess-1", owner)

	reg.expire("sess-1", staleGen)

	assert.Equal(t, session.StateActive, machine.State())
	_, ok := reg.Lookup("sess-1")
	assert.True(t, ok)
}

func TestDeregisterTerminalSessionDropsEntry(t *testing.T) {
	reg, st := testRegistry(t, time.Minute)
	seedSession(t, st, "sess-1", types.StatusIdle)

	owner := &recordingSubscriber{userID: "owner-1"}
	machine, err := reg.Register(context.Background(), "sess-1", owner)
	require.NoError(t, err)
	require.NoError(t, machine.Start(nil))
	require.NoError(t, machine.Complete())

	reg.Deregister("sess-1", owner)

	_, ok := reg.Lookup("sess-1")
	assert.False(t, ok)
}

func TestDeregisterKeepsOtherSubscribers(t *testing.T) {
	reg, st := testRegistry(t, time.Minute)
	seedSession(t, st, "sess-1", types.StatusIdle)

	owner := &recordingSubscriber{userID: "owner-1"}
	observer := &recordingSubscriber{userID: "observer-1"}
	_, err := reg.Register(context.Background(), "sess-1", owner)
	require.NoError(t, err)
	_, err = reg.Register(context.Background(), "sess-1", observer)
	require.NoError(t, err)

	reg.Deregister("sess-1", observer)

	assert.Equal(t, 1, reg.ConnectionCount("sess-1"))
	_, ok := reg.Lookup("sess-1")
	assert.True(t, ok)
}

func TestStats(t *testing.T) {
	reg, st := testRegistry(t, time.Minute)
	seedSession(t, st, "sess-1", types.StatusIdle)
	seedSession(t, st, "sess-2", types.StatusIdle)

	_, err := reg.Register(context.Background(), "sess-1", &recordingSubscriber{userID: "a"})
	require.NoError(t, err)
	_, err = reg.Register(context.Background(), "sess-1", &recordingSubscriber{userID: "b"})
	require.NoError(t, err)
	_, err = reg.Register(context.Background(), "sess-2", &recordingSubscriber{userID: "c"})
	require.NoError(t, err)

	stats := reg.Stats()
	assert.Equal(t, 2, stats["live_sessions"])
	assert.Equal(t, 3, stats["total_connections"])
}

func TestCloseRejectsRegistration(t *testing.T) {
	reg, st := testRegistry(t, time.Minute)
	seedSession(t, st, "sess-1", types.StatusIdle)

	reg.Close()

	_, err := reg.Register(context.Background(), "sess-1", &recordingSubscriber{userID: "a"})
	assert.ErrorIs(t, err, ErrClosed)
}
