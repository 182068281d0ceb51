package tee

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icc.tech/daq-core/internal/distributor"
	"icc.tech/daq-core/internal/measurement"
)

type fakeSink struct {
	mu      sync.Mutex
	written []*measurement.Measurement
	err     error
	delay   time.Duration
}

func (f *fakeSink) Write(m *measurement.Measurement) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.written = append(f.written, m)
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.written)
}

func TestTeeDeliversToBothArms(t *testing.T) {
	sink := &fakeSink{}
	dist := distributor.New(distributor.DefaultConfig())
	sub, unsub := dist.Subscribe("live")
	defer unsub()

	tee := New("cam0", DefaultConfig(), sink, dist)
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan *measurement.Measurement, 4)

	go tee.Run(ctx, in)

	m := measurement.NewScalar("cam0.intensity", 1.0, "counts", time.Now())
	in <- m

	select {
	case got := <-sub:
		assert.Equal(t, m, got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for lossy arm delivery")
	}

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(0), tee.Dropped())

	cancel()
}

func TestTeeCountsReliableDropOnTimeoutButStillBroadcasts(t *testing.T) {
	sink := &fakeSink{delay: 50 * time.Millisecond}
	dist := distributor.New(distributor.DefaultConfig())
	sub, unsub := dist.Subscribe("live")
	defer unsub()

	cfg := Config{ReliableTimeout: 5 * time.Millisecond}
	tee := New("cam0", cfg, sink, dist)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	in := make(chan *measurement.Measurement, 1)

	m := measurement.NewScalar("cam0.intensity", 1.0, "counts", time.Now())
	go tee.Run(ctx, in)
	in <- m

	select {
	case got := <-sub:
		assert.Equal(t, m, got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for lossy arm delivery despite reliable-arm timeout")
	}

	require.Eventually(t, func() bool { return tee.Dropped() == 1 }, time.Second, 5*time.Millisecond)
}

func TestTeeCountsReliableDropOnSinkError(t *testing.T) {
	sink := &fakeSink{err: errors.New("disk full")}
	dist := distributor.New(distributor.DefaultConfig())
	tee := New("cam0", DefaultConfig(), sink, dist)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	in := make(chan *measurement.Measurement, 1)

	go tee.Run(ctx, in)
	in <- measurement.NewScalar("cam0.intensity", 1.0, "counts", time.Now())

	require.Eventually(t, func() bool { return tee.Dropped() == 1 }, time.Second, 5*time.Millisecond)
}
