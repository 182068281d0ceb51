package command

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUDSServerRoundTrip(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "daq.sock")
	disp := NewDispatcher()
	disp.Register("ping", func(ctx context.Context, params json.RawMessage) (any, error) {
		return map[string]string{"pong": "ok"}, nil
	})
	disp.Register("echo", func(ctx context.Context, params json.RawMessage) (any, error) {
		var p struct{ Text string }
		if err := DecodeParams(params, &p); err != nil {
			return nil, err
		}
		return p.Text, nil
	})

	server := NewUDSServer(socket, disp)
	ctx, cancel := context.WithCancel(context.Background())
	go server.Start(ctx)
	defer cancel()

	require.Eventually(t, func() bool {
		_, err := os.Stat(socket)
		return err == nil
	}, time.Second, 5*time.Millisecond)

	client, err := Dial(socket, time.Second)
	require.NoError(t, err)
	defer client.Close()

	var pong map[string]string
	require.NoError(t, client.Call(context.Background(), "ping", nil, &pong))
	assert.Equal(t, "ok", pong["pong"])

	var echoed string
	require.NoError(t, client.Call(context.Background(), "echo", map[string]string{"Text": "hello"}, &echoed))
	assert.Equal(t, "hello", echoed)

	err = client.Call(context.Background(), "missing", nil, nil)
	assert.Error(t, err)
}
