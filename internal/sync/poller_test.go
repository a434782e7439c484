package sync

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPollerScansOnStartAndTick(t *testing.T) {
	var scans atomic.Int32
	p := New(20*time.Millisecond, func(context.Context) { scans.Add(1) })
	p.Start(context.Background())
	defer p.Stop()

	require.Eventually(t, func() bool { return scans.Load() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestPollerTriggerRunsScan(t *testing.T) {
	var scans atomic.Int32
	p := New(time.Hour, func(context.Context) { scans.Add(1) })
	p.Start(context.Background())
	defer p.Stop()

	require.Eventually(t, func() bool { return scans.Load() == 1 }, time.Second, 5*time.Millisecond)
	p.Trigger()
	require.Eventually(t, func() bool { return scans.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestPollerCoalescesTriggers(t *testing.T) {
	release := make(chan struct{})
	var scans atomic.Int32
	p := New(time.Hour, func(context.Context) {
		if scans.Add(1) == 1 {
			<-release
		}
	})
	p.Start(context.Background())
	defer p.Stop()

	require.Eventually(t, func() bool { return scans.Load() == 1 }, time.Second, 5*time.Millisecond)
	for i := 0; i < 10; i++ {
		p.Trigger()
	}
	close(release)

	require.Eventually(t, func() bool { return scans.Load() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(2), scans.Load())
}

func TestPollerStopIsIdempotentAndFinal(t *testing.T) {
	var scans atomic.Int32
	p := New(10*time.Millisecond, func(context.Context) { scans.Add(1) })
	p.Start(context.Background())
	require.Eventually(t, func() bool { return scans.Load() >= 1 }, time.Second, 5*time.Millisecond)

	p.Stop()
	p.Stop()
	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("poller did not exit")
	}

	after := scans.Load()
	p.Trigger()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, after, scans.Load())
}

func TestPollerStopBeforeStart(t *testing.T) {
	p := New(time.Millisecond, func(context.Context) { t.Fatal("scan after stop") })
	p.Stop()
	p.Start(context.Background())
	<-p.Done()
}
