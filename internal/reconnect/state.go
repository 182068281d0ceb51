package reconnect

import (
	"time"

	"google.golang.org/grpc"
)

// StateKind discriminates ConnectionState.
type StateKind int

const (
	Disconnected StateKind = iota
	Connecting
	Connected
	Reconnecting
	StateError
)

func (k StateKind) String() string {
	switch k {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ConnectionState is the reconnect manager's current state. Only the
// fields relevant to Kind are populated.
type ConnectionState struct {
	Kind StateKind

	// Connected
	ConnectedAt    time.Time
	DaemonVersion  string
	Address        string

	// Reconnecting
	Attempt     int
	NextRetryAt time.Time
	LastError   string

	// StateError
	Message   string
	Retriable bool
}

func (s ConnectionState) IsConnecting() bool { return s.Kind == Connecting || s.Kind == Reconnecting }
func (s ConnectionState) IsConnected() bool  { return s.Kind == Connected }

// ErrorMessage returns the error text for Reconnecting/StateError states.
func (s ConnectionState) ErrorMessage() (string, bool) {
	switch s.Kind {
	case StateError:
		return s.Message, true
	case Reconnecting:
		return s.LastError, true
	default:
		return "", false
	}
}

// HealthStatus is the queryable result of the post-connect health-check
// loop, updated after every gRPC health probe.
type HealthStatus struct {
	LastCheck            time.Time
	LastSuccess          time.Time
	ConsecutiveFailures  int
	CheckInProgress      bool
	LastRTT              time.Duration
	TotalErrors          uint64
	LastErrorAt          time.Time
	LastErrorMessage     string
}

// connectResult is what a connect goroutine reports back on the result
// channel the manager polls.
type connectResult struct {
	kind      resultKind
	client    *grpc.ClientConn
	version   string
	address   string
	err       error
	retriable bool
}

type resultKind int

const (
	resultConnected resultKind = iota
	resultFailed
	resultCancelled
)
