package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icc.tech/daq-core/internal/measurement"
)

func TestRingBufferAppendAndDrain(t *testing.T) {
	rb, err := NewRingBuffer("test-ring", 4096)
	require.NoError(t, err)
	defer rb.Close()

	m1 := measurement.NewScalar("cam0.intensity", 1.5, "counts", time.Now())
	m2 := measurement.NewScalar("cam0.intensity", 2.5, "counts", time.Now())
	require.NoError(t, rb.AppendMeasurement(m1))
	require.NoError(t, rb.AppendMeasurement(m2))

	got := rb.DrainNew()
	require.Len(t, got, 2)
	assert.Equal(t, m1.Value, got[0].Value)
	assert.Equal(t, m2.Value, got[1].Value)

	assert.Empty(t, rb.DrainNew())
}

func TestRingBufferRejectsOversizedRecord(t *testing.T) {
	rb, err := NewRingBuffer("test-ring-small", 8)
	require.NoError(t, err)
	defer rb.Close()

	m := measurement.NewScalar("cam0.intensity", 1.5, "counts", time.Now())
	err = rb.AppendMeasurement(m)
	assert.ErrorIs(t, err, ErrBufferFull)
}

func TestRingBufferRefusesOverwriteOfUnreadData(t *testing.T) {
	m := measurement.NewScalar("cam0.intensity", 1.5, "counts", time.Now())
	payload, err := measurement.Encode(m)
	require.NoError(t, err)
	recLen := int64(4 + len(payload))

	rb, err := NewRingBuffer("test-ring-behind", 2*recLen)
	require.NoError(t, err)
	defer rb.Close()

	require.NoError(t, rb.Append(payload))
	require.NoError(t, rb.Append(payload))

	// The writer hasn't drained anything yet: a third record would have to
	// wrap over the first two, which are still unread.
	err = rb.Append(payload)
	assert.ErrorIs(t, err, ErrBufferFull)

	got := rb.DrainNew()
	require.Len(t, got, 2)

	// Draining freed the space back up, so the same record fits again.
	require.NoError(t, rb.Append(payload))
}

func TestDiskWriterDrainsRingBufferOnTickAndShutdown(t *testing.T) {
	rb, err := NewRingBuffer("test-ring-dw", 4096)
	require.NoError(t, err)
	defer rb.Close()

	cw := NewConsoleWriter("test")
	require.NoError(t, cw.Init(nil))

	dw := NewDiskWriter("test", rb, cw, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	go dw.Run(ctx)
	require.NoError(t, rb.AppendMeasurement(measurement.NewScalar("cam0.intensity", 3.0, "counts", time.Now())))

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-dw.Done():
	case <-time.After(time.Second):
		t.Fatal("disk writer did not shut down")
	}
}
