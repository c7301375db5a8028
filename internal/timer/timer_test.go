package timer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fireRecorder struct {
	mu    sync.Mutex
	names []string
	ch    chan string
}

func newFireRecorder() *fireRecorder {
	return &fireRecorder{ch: make(chan string, 16)}
}

func (r *fireRecorder) fire(name string) {
	r.mu.Lock()
	r.names = append(r.names, name)
	r.mu.Unlock()
	r.ch <- name
}

func (r *fireRecorder) wait(t *testing.T, timeout time.Duration) string {
	t.Helper()
	select {
	case name := <-r.ch:
		return name
	case <-time.After(timeout):
		t.Fatalf("timer did not fire within %s", timeout)
		return ""
	}
}

func TestArmFires(t *testing.T) {
	rec := newFireRecorder()
	svc := New(rec.fire)
	svc.Start()
	defer svc.Stop()

	svc.Arm("r1", time.Now().Add(20*time.Millisecond).UnixMilli())
	require.Equal(t, "r1", rec.wait(t, time.Second))
	assert.Empty(t, svc.Armed())
}

func TestPastDeadlineFires(t *testing.T) {
	rec := newFireRecorder()
	svc := New(rec.fire)
	svc.Start()
	defer svc.Stop()

	svc.Arm("late", time.Now().Add(-time.Hour).UnixMilli())
	require.Equal(t, "late", rec.wait(t, time.Second))
}

func TestDisarmPreventsFire(t *testing.T) {
	rec := newFireRecorder()
	svc := New(rec.fire)
	svc.Start()
	defer svc.Stop()

	svc.Arm("cancelled", time.Now().Add(50*time.Millisecond).UnixMilli())
	svc.Disarm("cancelled")
	assert.Empty(t, svc.Armed())

	select {
	case name := <-rec.ch:
		t.Fatalf("disarmed timer fired: %s", name)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestRearmReplacesDeadline(t *testing.T) {
	rec := newFireRecorder()
	svc := New(rec.fire)
	svc.Start()
	defer svc.Stop()

	svc.Arm("moved", time.Now().Add(time.Hour).UnixMilli())
	svc.Arm("moved", time.Now().Add(20*time.Millisecond).UnixMilli())
	require.Equal(t, "moved", rec.wait(t, time.Second))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Len(t, rec.names, 1, "re-armed timer fired more than once")
}

func TestSerializedDispatch(t *testing.T) {
	var mu sync.Mutex
	inFlight := 0
	maxInFlight := 0
	done := make(chan struct{}, 3)

	svc := New(func(string) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		done <- struct{}{}
	})
	svc.Start()
	defer svc.Stop()

	at := time.Now().Add(10 * time.Millisecond).UnixMilli()
	svc.Arm("a", at)
	svc.Arm("b", at)
	svc.Arm("c", at)
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("fire %d not dispatched", i)
		}
	}
	assert.Equal(t, 1, maxInFlight, "fires overlapped")
}

func TestRearmSurvivesElapsedOldDeadline(t *testing.T) {
	rec := newFireRecorder()
	svc := New(rec.fire)
	svc.Start()
	defer svc.Stop()

	// Old deadline elapses while the name is being re-armed far into the
	// future; the old timer's callback runs only after Arm returns.
	svc.Arm("moved", time.Now().Add(time.Hour).UnixMilli())
	svc.mu.Lock()
	staleGen := svc.timers["moved"].gen
	svc.mu.Unlock()

	svc.Arm("moved", time.Now().Add(2*time.Hour).UnixMilli())
	svc.enqueue("moved", staleGen)

	select {
	case name := <-rec.ch:
		t.Fatalf("replaced timer fired: %s", name)
	case <-time.After(100 * time.Millisecond):
	}
	require.Equal(t, []string{"moved"}, svc.Armed(), "re-armed entry must survive the stale callback")
}

func TestStopIsIdempotent(t *testing.T) {
	svc := New(nil)
	svc.Start()
	svc.Arm("x", time.Now().Add(time.Hour).UnixMilli())
	svc.Stop()
	svc.Stop()
	assert.Empty(t, svc.Armed())
}
