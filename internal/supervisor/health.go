package supervisor

import (
	"context"
	"io"
	"net/http"
	"time"
)

// HealthState classifies a liveness probe outcome.
type HealthState string

const (
	Healthy     HealthState = "healthy"
	Unhealthy   HealthState = "unhealthy"
	Unreachable HealthState = "unreachable"
)

// HealthResult is the outcome of one probe.
type HealthResult struct {
	State      HealthState `json:"state"`
	StatusCode int         `json:"status_code,omitempty"`
	Detail     string      `json:"detail,omitempty"`
}

const healthTimeout = 10 * time.Second

// HealthCheck probes the server's health endpoint with a bounded timeout.
// Transport failures are downgraded to Unreachable, never returned as
// errors past this boundary.
func (s *Supervisor) HealthCheck(ctx context.Context) HealthResult {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.HealthURL, nil)
	if err != nil {
		return HealthResult{State: Unreachable, Detail: err.Error()}
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return HealthResult{State: Unreachable, Detail: err.Error()}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return HealthResult{State: Unhealthy, StatusCode: resp.StatusCode}
	}
	return HealthResult{State: Healthy, StatusCode: resp.StatusCode, Detail: string(body)}
}
