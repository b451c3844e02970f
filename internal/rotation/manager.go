package rotation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	otelPkg "github.com/basket/clawgate/internal/otel"
	"github.com/basket/clawgate/internal/persistence"
)

// Publisher propagates the active credential into the wrapped process
// environment and any persisted launch configuration.
type Publisher interface {
	Apply(ctx context.Context, cred Credential) error
}

// Restarter accepts fire-and-forget restart requests. RequestRestart must
// not block; it reports whether the request was accepted (a pending restart
// may already be queued).
type Restarter interface {
	RequestRestart(delay time.Duration) bool
}

// EventRecorder appends rotation audit events. Implemented by the
// persistence store; failures are logged and never surfaced to callers.
type EventRecorder interface {
	AppendRotationEvent(ctx context.Context, ev persistence.RotationEvent) error
}

// Config holds the dependencies for the rotation Manager.
type Config struct {
	Credentials []Credential
	Publisher   Publisher
	Restarter   Restarter
	Recorder    EventRecorder
	Logger      *slog.Logger
	Metrics     *otelPkg.Metrics

	// RestartOnRotate makes a successful failover also cycle the server
	// process through the Restarter.
	RestartOnRotate bool

	// RestartDelay is how long the Restarter waits before acting, letting
	// in-flight requests drain. Default 2s.
	RestartDelay time.Duration
}

// Manager owns the credential pool and serializes every pool access behind
// one mutex: the index and the failed set must always be observed together.
type Manager struct {
	mu   sync.Mutex
	pool *Pool

	publisher Publisher
	restarter Restarter
	recorder  EventRecorder
	logger    *slog.Logger
	metrics   *otelPkg.Metrics

	restartOnRotate bool
	restartDelay    time.Duration
}

// NewManager creates a Manager over the given credentials.
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	delay := cfg.RestartDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}
	return &Manager{
		pool:            NewPool(cfg.Credentials),
		publisher:       cfg.Publisher,
		restarter:       cfg.Restarter,
		recorder:        cfg.Recorder,
		logger:          logger,
		metrics:         cfg.Metrics,
		restartOnRotate: cfg.RestartOnRotate,
		restartDelay:    delay,
	}
}

// Status is the read-only snapshot exposed by the gateway.
type Status struct {
	TotalCredentials int                `json:"total_credentials"`
	CurrentIndex     int                `json:"current_index"`
	CurrentName      string             `json:"current_name,omitempty"`
	FailedCount      int                `json:"failed_count"`
	AvailableCount   int                `json:"available_count"`
	LastRotation     time.Time          `json:"last_rotation,omitzero"`
	Credentials      []CredentialStatus `json:"credentials"`
}

// Status returns the pool snapshot. It has no side effects: an exhausted
// pool still reports every credential failed until the next Current call.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		TotalCredentials: m.pool.Len(),
		CurrentIndex:     m.pool.CurrentIndex(),
		FailedCount:      m.pool.FailedCount(),
		AvailableCount:   m.pool.Len() - m.pool.FailedCount(),
		LastRotation:     m.pool.LastRotation(),
		Credentials:      m.pool.Snapshot(),
	}
	for _, cs := range st.Credentials {
		if cs.State == "active" {
			st.CurrentName = cs.Name
			break
		}
	}
	return st
}

// Current returns the active credential, resetting failure marks on
// exhaustion.
func (m *Manager) Current() (Credential, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, _, ok := m.pool.Current()
	return cred, ok
}

// MarkFailed records a failure observation for index without advancing the
// pool. No-op on an empty pool.
func (m *Manager) MarkFailed(index int, reason string) {
	m.mu.Lock()
	name := m.credName(index)
	m.pool.MarkFailed(index)
	failedCount := m.pool.FailedCount()
	m.mu.Unlock()

	m.logger.Warn("credential marked failed",
		"name", name,
		"index", index,
		"reason", reason,
		"failed_count", failedCount,
	)
	if m.metrics != nil {
		m.metrics.CredentialFailures.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("reason", reason)))
	}
}

// Rotate advances to the next pool index and returns whether a usable
// credential exists afterward. Calling it twice moves two steps; failover
// callers use MarkFailedAndRotate instead.
func (m *Manager) Rotate(ctx context.Context) bool {
	m.mu.Lock()
	fromIndex := m.pool.CurrentIndex()
	if !m.pool.Rotate(time.Now()) {
		m.mu.Unlock()
		m.logger.Error("rotation requested on empty credential pool")
		return false
	}
	cred, toIndex, _ := m.pool.Current()
	total := m.pool.Len()
	m.mu.Unlock()

	m.logger.Info("rotated credential",
		"from_index", fromIndex,
		"to_index", toIndex,
		"name", cred.Name,
		"total", total,
	)
	if m.metrics != nil {
		m.metrics.Rotations.Add(ctx, 1)
	}
	m.record(ctx, persistence.RotationEvent{
		Kind:            "manual_rotate",
		CredentialName:  cred.Name,
		CredentialIndex: toIndex,
	})
	return true
}

// MarkFailedAndRotate is the failover composite: record the failure, advance
// the pool, publish the new credential, and optionally queue an asynchronous
// process restart. The return value reflects rotation only; restart and
// publish outcomes are observable through logs and telemetry.
func (m *Manager) MarkFailedAndRotate(ctx context.Context, index int, reason string) bool {
	m.mu.Lock()
	if m.pool.Len() == 0 {
		m.mu.Unlock()
		return false
	}
	failedName := m.credName(index)
	m.pool.MarkFailed(index)
	failedCount := m.pool.FailedCount()
	m.pool.Rotate(time.Now())
	cred, toIndex, _ := m.pool.Current()
	m.mu.Unlock()

	m.logger.Warn("credential failover",
		"failed_name", failedName,
		"failed_index", index,
		"reason", reason,
		"failed_count", failedCount,
		"to_index", toIndex,
		"to_name", cred.Name,
	)
	if m.metrics != nil {
		m.metrics.CredentialFailures.Add(ctx, 1,
			metric.WithAttributes(attribute.String("reason", reason)))
		m.metrics.Rotations.Add(ctx, 1)
	}
	m.record(ctx, persistence.RotationEvent{
		Kind:            "failover",
		CredentialName:  cred.Name,
		CredentialIndex: toIndex,
		Reason:          reason,
	})

	if m.publisher != nil {
		if err := m.publisher.Apply(ctx, cred); err != nil {
			m.logger.Error("failed to apply credential after failover", "error", err)
		}
	}

	if m.restartOnRotate && m.restarter != nil {
		if m.restarter.RequestRestart(m.restartDelay) {
			m.logger.Info("process restart queued after failover", "delay", m.restartDelay)
		}
	}
	return true
}

// ApplyCurrent publishes the active credential. Returns false when the pool
// is empty or the publisher rejected the environment update.
func (m *Manager) ApplyCurrent(ctx context.Context) bool {
	m.mu.Lock()
	cred, index, ok := m.pool.Current()
	m.mu.Unlock()
	if !ok {
		m.logger.Error("no credential available to apply")
		return false
	}
	if m.publisher == nil {
		return true
	}
	if err := m.publisher.Apply(ctx, cred); err != nil {
		m.logger.Error("failed to apply credential", "name", cred.Name, "error", err)
		return false
	}
	m.record(ctx, persistence.RotationEvent{
		Kind:            "apply",
		CredentialName:  cred.Name,
		CredentialIndex: index,
	})
	return true
}

// Reload replaces the pool contents after a config change. Entry order may
// have changed, so the index resets to zero and failure marks clear.
func (m *Manager) Reload(creds []Credential) {
	m.mu.Lock()
	m.pool = NewPool(creds)
	m.mu.Unlock()
	m.logger.Info("credential pool reloaded", "total", len(creds))
}

// credName returns the display name at index; callers hold m.mu.
func (m *Manager) credName(index int) string {
	if index < 0 || index >= len(m.pool.creds) {
		return ""
	}
	return m.pool.creds[index].Name
}

func (m *Manager) record(ctx context.Context, ev persistence.RotationEvent) {
	if m.recorder == nil {
		return
	}
	ev.ID = uuid.NewString()
	ev.CreatedAt = time.Now().UTC()
	if err := m.recorder.AppendRotationEvent(ctx, ev); err != nil {
		m.logger.Warn("failed to record rotation event", "kind", ev.Kind, "error", err)
	}
}
