package distributor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icc.tech/daq-core/internal/measurement"
)

func TestSubscribeUnsubscribeDistinctReceivers(t *testing.T) {
	d := New(DefaultConfig())

	ch1, unsub1 := d.Subscribe("ui")
	unsub1()
	ch2, unsub2 := d.Subscribe("ui")
	defer unsub2()

	assert.NotEqual(t, ch1, ch2)
	assert.Equal(t, 1, d.SubscriberCount())
}

func TestBroadcastNeverBlocksSlowSubscriber(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SubscriberCapacity = 16
	d := New(cfg)

	slowCh, unsubSlow := d.Subscribe("slow")
	defer unsubSlow()

	const total = 10000
	start := time.Now()
	for i := 0; i < total; i++ {
		d.Broadcast(measurement.NewScalar("ch", float64(i), "V", time.Now()))
	}
	elapsed := time.Since(start)

	snaps := d.MetricsSnapshot()
	require.Len(t, snaps, 1)
	snap := snaps[0]
	assert.Equal(t, uint64(total), snap.Delivered+snap.Dropped)
	assert.GreaterOrEqual(t, snap.Delivered, uint64(16))
	assert.Less(t, elapsed, 5*time.Second)

	drained := 0
	for {
		select {
		case <-slowCh:
			drained++
		default:
			goto done
		}
	}
done:
	assert.LessOrEqual(t, drained, 16)
}

func TestBroadcastFastSubscriberSeesAllMeasurements(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SubscriberCapacity = 20000
	d := New(cfg)

	ch, unsub := d.Subscribe("fast")
	defer unsub()

	const total = 10000
	for i := 0; i < total; i++ {
		d.Broadcast(measurement.NewScalar("ch", float64(i), "V", time.Now()))
	}

	received := 0
	for range total {
		select {
		case <-ch:
			received++
		default:
		}
	}
	assert.Equal(t, total, received)
}

func TestConcurrentBroadcastDoesNotRace(t *testing.T) {
	d := New(DefaultConfig())
	_, unsub := d.Subscribe("observer")
	defer unsub()

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				d.Broadcast(measurement.NewScalar("ch", float64(i), "V", time.Now()))
			}
		}(p)
	}
	wg.Wait()

	snaps := d.MetricsSnapshot()
	require.Len(t, snaps, 1)
	assert.Equal(t, uint64(8*200), snaps[0].Delivered+snaps[0].Dropped)
}
