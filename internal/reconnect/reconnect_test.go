package reconnect

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func TestDelayForAttemptExponentialBackoffCapped(t *testing.T) {
	cfg := Config{InitialDelay: time.Second, MaxDelay: 30 * time.Second, BackoffMultiplier: 2.0, Jitter: false}
	assert.Equal(t, time.Second, cfg.DelayForAttempt(1))
	assert.Equal(t, 2*time.Second, cfg.DelayForAttempt(2))
	assert.Equal(t, 4*time.Second, cfg.DelayForAttempt(3))
	assert.Equal(t, 30*time.Second, cfg.DelayForAttempt(6))
	assert.Equal(t, 30*time.Second, cfg.DelayForAttempt(7))
}

func TestIsRetriableErrorClassification(t *testing.T) {
	assert.True(t, isRetriableError(errors.New("transport error")))
	assert.True(t, isRetriableError(errors.New("connection refused")))
	assert.True(t, isRetriableError(errors.New("request timed out")))
	assert.True(t, isRetriableError(errors.New("DNS resolution failed")))
	assert.False(t, isRetriableError(errors.New("invalid URL")))
	assert.False(t, isRetriableError(errors.New("invalid uri scheme")))
	assert.False(t, isRetriableError(errors.New("unsupported scheme 'ftp'")))
}

func TestManagerConnectFailureTransitionsToReconnecting(t *testing.T) {
	m := New(Config{InitialDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond, BackoffMultiplier: 2, Jitter: false, Enabled: true, MaxAttempts: 2},
		DefaultHealthConfig(),
		func(ctx context.Context, address string) (*grpc.ClientConn, string, error) {
			return nil, "", errors.New("connection refused")
		})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.PollLoop(ctx)

	require.NoError(t, m.Connect(ctx, "127.0.0.1:1"))

	require.Eventually(t, func() bool {
		s := m.State()
		return s.Kind == Reconnecting || s.Kind == StateError
	}, 2*time.Second, 5*time.Millisecond)
}

func TestManagerConnectNonRetriableGoesStraightToError(t *testing.T) {
	m := New(DefaultConfig(), DefaultHealthConfig(), func(ctx context.Context, address string) (*grpc.ClientConn, string, error) {
		return nil, "", errors.New("invalid URL")
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.PollLoop(ctx)

	require.NoError(t, m.Connect(ctx, "bad://address"))

	require.Eventually(t, func() bool { return m.State().Kind == StateError }, time.Second, 5*time.Millisecond)
	assert.False(t, m.State().Retriable)
}

// newBufconnHealthServer starts an in-process gRPC server serving the
// standard health protocol and returns a Dialer wired to it; stopping the
// returned server makes subsequent checks fail at the transport level.
func newBufconnHealthServer(t *testing.T) (Dialer, *grpc.Server) {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	hsrv := health.NewServer()
	hsrv.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	grpc_health_v1.RegisterHealthServer(srv, hsrv)
	go srv.Serve(lis)

	dial := func(ctx context.Context, address string) (*grpc.ClientConn, string, error) {
		conn, err := grpc.NewClient("passthrough:///bufnet",
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.Dial() }),
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, "", err
		}
		return conn, "test-version", nil
	}
	return dial, srv
}

func TestManagerHealthStatusTracksSuccessAndFailure(t *testing.T) {
	dial, srv := newBufconnHealthServer(t)
	m := New(DefaultConfig(), HealthConfig{Interval: 10 * time.Millisecond, FailureThreshold: 2, Timeout: time.Second}, dial)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.PollLoop(ctx)

	require.NoError(t, m.Connect(ctx, "bufnet"))
	require.Eventually(t, func() bool { return m.State().Kind == Connected }, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool { return !m.HealthStatus().LastSuccess.IsZero() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, m.HealthStatus().ConsecutiveFailures)
	assert.GreaterOrEqual(t, m.HealthStatus().LastRTT, time.Duration(0))

	srv.Stop()
	require.Eventually(t, func() bool { return m.HealthStatus().ConsecutiveFailures > 0 }, time.Second, 5*time.Millisecond)
	assert.NotEmpty(t, m.HealthStatus().LastErrorMessage)
}

func TestCancelDiscardsStaleConnectResult(t *testing.T) {
	release := make(chan struct{})
	m := New(DefaultConfig(), DefaultHealthConfig(), func(ctx context.Context, address string) (*grpc.ClientConn, string, error) {
		<-release
		return nil, "v1", nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.PollLoop(ctx)

	require.NoError(t, m.Connect(ctx, "127.0.0.1:1"))
	m.Cancel()
	close(release)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, Disconnected, m.State().Kind)
}
