package reconnect

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	"icc.tech/daq-core/internal/log"
	"icc.tech/daq-core/internal/metrics"
)

// Dialer opens a connection to address; production code passes
// grpc.NewClient (or DialContext), tests pass a stub. Returning a daemon
// version string lets Connect report it without a second round trip.
type Dialer func(ctx context.Context, address string) (*grpc.ClientConn, string, error)

// DefaultDialer dials with insecure transport credentials. It makes no
// round trip after connecting and returns an empty daemon version string.
func DefaultDialer(ctx context.Context, address string) (*grpc.ClientConn, string, error) {
	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, "", err
	}
	return conn, "", nil
}

// Manager drives the connection state machine: Connect/Cancel/Retry plus
// a background health-check loop once Connected. Exactly one connect (or
// reconnect) attempt is outstanding at a time.
type Manager struct {
	cfg       Config
	health    HealthConfig
	dial      Dialer
	dist      onStateChange

	mu      sync.Mutex
	state   ConnectionState
	cancel  context.CancelFunc
	results chan connectResult
	hstat   HealthStatus

	conn *grpc.ClientConn
}

// onStateChange is an optional hook the daemon can set to publish state
// transitions onto the Data Distributor; nil means no publication.
type onStateChange func(ConnectionState)

func New(cfg Config, health HealthConfig, dial Dialer) *Manager {
	if dial == nil {
		dial = DefaultDialer
	}
	return &Manager{cfg: cfg, health: health, dial: dial, state: ConnectionState{Kind: Disconnected}, results: make(chan connectResult, 1)}
}

// OnStateChange registers a callback invoked (outside any lock) whenever
// the manager's state transitions.
func (m *Manager) OnStateChange(f func(ConnectionState)) {
	m.mu.Lock()
	m.dist = f
	m.mu.Unlock()
}

// State returns the current connection state.
func (m *Manager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// HealthStatus returns a snapshot of the post-connect health-check loop:
// consecutive failure count, last RTT, and error history. Zero value
// before the first connection ever succeeds.
func (m *Manager) HealthStatus() HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hstat
}

// Connect is valid only from Disconnected or Error; it transitions to
// Connecting and spawns a connect goroutine. The caller should follow up
// by running PollLoop to observe the outcome.
func (m *Manager) Connect(ctx context.Context, address string) error {
	m.mu.Lock()
	if m.state.Kind != Disconnected && m.state.Kind != StateError {
		m.mu.Unlock()
		return fmt.Errorf("reconnect: cannot connect from state %s", m.state.Kind)
	}
	connCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.setState(ConnectionState{Kind: Connecting, Address: address})
	m.mu.Unlock()

	go m.doConnect(connCtx, address, 0)
	return nil
}

// Cancel cancels any in-flight connect/reconnect and transitions to
// Disconnected.
func (m *Manager) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.setState(ConnectionState{Kind: Disconnected})
}

// Retry cancels then connects again, resetting the attempt counter.
func (m *Manager) Retry(ctx context.Context, address string) error {
	m.Cancel()
	return m.Connect(ctx, address)
}

func (m *Manager) doConnect(ctx context.Context, address string, attempt int) {
	conn, version, err := m.dial(ctx, address)
	select {
	case <-ctx.Done():
		m.results <- connectResult{kind: resultCancelled, address: address}
		return
	default:
	}
	if err != nil {
		m.results <- connectResult{kind: resultFailed, address: address, err: err, retriable: isRetriableError(err)}
		return
	}
	m.results <- connectResult{kind: resultConnected, client: conn, version: version, address: address}
}

// PollLoop drains the result channel until ctx is cancelled, applying
// each result to the state machine and spawning reconnects as needed. Run
// this in its own goroutine.
func (m *Manager) PollLoop(ctx context.Context) {
	logger := log.GetLogger().WithField("component", "reconnect")
	for {
		select {
		case <-ctx.Done():
			return
		case res := <-m.results:
			m.applyResult(ctx, res, logger)
		}
	}
}

func (m *Manager) applyResult(ctx context.Context, res connectResult, logger log.Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Stale results whose state is no longer Connecting|Reconnecting are
	// discarded — a cancelled connect that still reports Connected must
	// not resurrect a connection the caller already gave up on.
	if !m.state.IsConnecting() {
		return
	}

	switch res.kind {
	case resultConnected:
		m.conn = res.client
		m.setState(ConnectionState{Kind: Connected, ConnectedAt: time.Now(), DaemonVersion: res.version, Address: res.address})
		metrics.ReconnectAttemptsTotal.WithLabelValues(res.address, "ok").Inc()
		go m.healthLoop(ctx, res.address)

	case resultCancelled:
		// Cancel() already set Disconnected; nothing further to do.

	case resultFailed:
		metrics.ReconnectAttemptsTotal.WithLabelValues(res.address, "fail").Inc()
		attempt := m.state.Attempt + 1
		if !res.retriable || !m.cfg.ShouldReconnect(attempt) {
			msg := res.err.Error()
			if res.retriable {
				msg += " (max retries exceeded)"
			}
			m.setState(ConnectionState{Kind: StateError, Message: msg, Retriable: res.retriable})
			return
		}
		delay := m.cfg.DelayForAttempt(attempt)
		metrics.ReconnectBackoffSeconds.WithLabelValues(res.address).Set(delay.Seconds())
		nextAt := time.Now().Add(delay)
		m.setState(ConnectionState{Kind: Reconnecting, Attempt: attempt, NextRetryAt: nextAt, LastError: res.err.Error()})

		connCtx, cancel := context.WithCancel(context.Background())
		m.cancel = cancel
		logger.WithFields(map[string]interface{}{"attempt": attempt, "delay": delay}).Warn("scheduling reconnect")
		go func() {
			select {
			case <-time.After(delay):
				m.doConnect(connCtx, res.address, attempt)
			case <-connCtx.Done():
			}
		}()
	}
}

// setState must be called with mu held; it notifies the optional
// onStateChange hook outside the lock.
func (m *Manager) setState(s ConnectionState) {
	m.state = s
	if m.dist != nil {
		hook := m.dist
		go hook(s)
	}
}

// healthLoop runs the gRPC health-checking protocol on an interval while
// Connected; repeated failures past the threshold trigger a reconnect.
func (m *Manager) healthLoop(ctx context.Context, address string) {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return
	}
	client := grpc_health_v1.NewHealthClient(conn)
	ticker := time.NewTicker(m.health.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			connected := m.state.Kind == Connected
			m.hstat.CheckInProgress = true
			m.mu.Unlock()
			if !connected {
				return
			}

			checkCtx, cancel := context.WithTimeout(ctx, m.health.Timeout)
			start := time.Now()
			_, err := client.Check(checkCtx, &grpc_health_v1.HealthCheckRequest{})
			rtt := time.Since(start)
			cancel()

			m.mu.Lock()
			m.hstat.LastCheck = start
			m.hstat.LastRTT = rtt
			m.hstat.CheckInProgress = false
			if err != nil {
				m.hstat.ConsecutiveFailures++
				m.hstat.TotalErrors++
				m.hstat.LastErrorAt = time.Now()
				m.hstat.LastErrorMessage = err.Error()
				failures := m.hstat.ConsecutiveFailures
				m.mu.Unlock()
				if failures >= m.health.FailureThreshold {
					m.mu.Lock()
					m.setState(ConnectionState{Kind: StateError, Message: "health check failed", Retriable: true})
					m.mu.Unlock()
					go m.triggerReconnect(address, err)
					return
				}
				continue
			}
			m.hstat.LastSuccess = time.Now()
			m.hstat.ConsecutiveFailures = 0
			m.mu.Unlock()
		}
	}
}

func (m *Manager) triggerReconnect(address string, cause error) {
	m.mu.Lock()
	attempt := 1
	delay := m.cfg.DelayForAttempt(attempt)
	m.setState(ConnectionState{Kind: Reconnecting, Attempt: attempt, NextRetryAt: time.Now().Add(delay), LastError: cause.Error()})
	connCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.mu.Unlock()

	go func() {
		select {
		case <-time.After(delay):
			m.doConnect(connCtx, address, attempt)
		case <-connCtx.Done():
		}
	}()
}
