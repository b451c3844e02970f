package rotation_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/basket/clawgate/internal/persistence"
	"github.com/basket/clawgate/internal/rotation"
)

type fakePublisher struct {
	mu      sync.Mutex
	applied []rotation.Credential
	err     error
}

func (f *fakePublisher) Apply(_ context.Context, cred rotation.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, cred)
	return f.err
}

func (f *fakePublisher) appliedNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.applied))
	for i, c := range f.applied {
		names[i] = c.Name
	}
	return names
}

type fakeRestarter struct {
	mu       sync.Mutex
	requests []time.Duration
}

func (f *fakeRestarter) RequestRestart(delay time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, delay)
	return true
}

func (f *fakeRestarter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []persistence.RotationEvent
}

func (f *fakeRecorder) AppendRotationEvent(_ context.Context, ev persistence.RotationEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func twoCreds() []rotation.Credential {
	return []rotation.Credential{
		{Name: "a", Token: "t1"},
		{Name: "b", Token: "t2"},
	}
}

func TestManager_StatusSnapshot(t *testing.T) {
	m := rotation.NewManager(rotation.Config{Credentials: twoCreds()})

	st := m.Status()
	if st.TotalCredentials != 2 || st.CurrentIndex != 0 {
		t.Fatalf("unexpected status: %+v", st)
	}
	if st.CurrentName != "a" {
		t.Fatalf("current name = %q", st.CurrentName)
	}
	if st.AvailableCount != 2 || st.FailedCount != 0 {
		t.Fatalf("counts: %+v", st)
	}
	if !st.LastRotation.IsZero() {
		t.Fatal("fresh manager should have zero last rotation")
	}
}

func TestManager_RotateAdvancesAndReturnsToStart(t *testing.T) {
	m := rotation.NewManager(rotation.Config{Credentials: twoCreds()})
	ctx := context.Background()

	if !m.Rotate(ctx) {
		t.Fatal("rotate should succeed")
	}
	if st := m.Status(); st.CurrentIndex != 1 || st.CurrentName != "b" {
		t.Fatalf("after one rotate: %+v", st)
	}
	if !m.Rotate(ctx) {
		t.Fatal("rotate should succeed")
	}
	if st := m.Status(); st.CurrentIndex != 0 {
		t.Fatalf("two rotates on two credentials should cycle back: %+v", st)
	}
	if st := m.Status(); st.LastRotation.IsZero() {
		t.Fatal("last rotation should be set")
	}
}

func TestManager_RotateEmptyPool(t *testing.T) {
	m := rotation.NewManager(rotation.Config{})
	if m.Rotate(context.Background()) {
		t.Fatal("rotate on empty pool must fail")
	}
	if m.ApplyCurrent(context.Background()) {
		t.Fatal("apply on empty pool must fail")
	}
	if m.MarkFailedAndRotate(context.Background(), 0, "rate_limit") {
		t.Fatal("failover on empty pool must fail")
	}
}

func TestManager_MarkFailedAndRotate(t *testing.T) {
	pub := &fakePublisher{}
	rst := &fakeRestarter{}
	rec := &fakeRecorder{}
	m := rotation.NewManager(rotation.Config{
		Credentials:     twoCreds(),
		Publisher:       pub,
		Restarter:       rst,
		Recorder:        rec,
		RestartOnRotate: true,
		RestartDelay:    time.Second,
	})

	if !m.MarkFailedAndRotate(context.Background(), 0, "rate_limit") {
		t.Fatal("failover should succeed")
	}

	st := m.Status()
	if st.CurrentIndex != 1 || st.CurrentName != "b" {
		t.Fatalf("expected failover to b: %+v", st)
	}
	if st.FailedCount != 1 {
		t.Fatalf("failed count = %d", st.FailedCount)
	}
	if names := pub.appliedNames(); len(names) != 1 || names[0] != "b" {
		t.Fatalf("publisher applied %v", names)
	}
	if rst.count() != 1 {
		t.Fatalf("expected one restart request, got %d", rst.count())
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.events) != 1 || rec.events[0].Kind != "failover" || rec.events[0].Reason != "rate_limit" {
		t.Fatalf("unexpected audit events: %+v", rec.events)
	}
	if rec.events[0].ID == "" {
		t.Fatal("event id should be assigned")
	}
}

func TestManager_MarkFailedAndRotate_NoRestartWhenDisabled(t *testing.T) {
	rst := &fakeRestarter{}
	m := rotation.NewManager(rotation.Config{
		Credentials:     twoCreds(),
		Restarter:       rst,
		RestartOnRotate: false,
	})
	if !m.MarkFailedAndRotate(context.Background(), 0, "auth_error") {
		t.Fatal("failover should succeed")
	}
	if rst.count() != 0 {
		t.Fatal("restart must not fire when restart_on_rotate is off")
	}
}

func TestManager_SingleCredentialFailover(t *testing.T) {
	rst := &fakeRestarter{}
	m := rotation.NewManager(rotation.Config{
		Credentials:     []rotation.Credential{{Name: "only", Token: "t"}},
		Restarter:       rst,
		RestartOnRotate: true,
	})

	if !m.MarkFailedAndRotate(context.Background(), 0, "rate_limit") {
		t.Fatal("single-credential failover should still succeed via exhaustion reset")
	}
	cred, ok := m.Current()
	if !ok || cred.Name != "only" {
		t.Fatalf("expected the sole credential back, got %+v ok=%v", cred, ok)
	}
	if rst.count() != 1 {
		t.Fatal("restart should fire when configured")
	}
}

func TestManager_ApplyCurrent(t *testing.T) {
	pub := &fakePublisher{}
	m := rotation.NewManager(rotation.Config{Credentials: twoCreds(), Publisher: pub})

	if !m.ApplyCurrent(context.Background()) {
		t.Fatal("apply should succeed")
	}
	if names := pub.appliedNames(); len(names) != 1 || names[0] != "a" {
		t.Fatalf("applied %v", names)
	}
}

func TestManager_Reload(t *testing.T) {
	m := rotation.NewManager(rotation.Config{Credentials: twoCreds()})
	m.MarkFailed(0, "rate_limit")
	m.Rotate(context.Background())

	m.Reload([]rotation.Credential{{Name: "fresh", Token: "t9"}})
	st := m.Status()
	if st.TotalCredentials != 1 || st.CurrentIndex != 0 || st.FailedCount != 0 {
		t.Fatalf("reload should reset pool state: %+v", st)
	}
	if st.CurrentName != "fresh" {
		t.Fatalf("current name = %q", st.CurrentName)
	}
}

func TestManager_ConcurrentFailoversStayConsistent(t *testing.T) {
	m := rotation.NewManager(rotation.Config{
		Credentials: []rotation.Credential{
			{Name: "a", Token: "1"}, {Name: "b", Token: "2"},
			{Name: "c", Token: "3"}, {Name: "d", Token: "4"},
		},
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			m.MarkFailedAndRotate(context.Background(), n%4, "rate_limit")
			m.Status()
			m.Current()
		}(i)
	}
	wg.Wait()

	st := m.Status()
	if st.CurrentIndex < 0 || st.CurrentIndex >= st.TotalCredentials {
		t.Fatalf("index out of range after concurrent failovers: %+v", st)
	}
	if st.FailedCount > st.TotalCredentials {
		t.Fatalf("failed count exceeds pool size: %+v", st)
	}
}
