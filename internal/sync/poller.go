package sync

import (
	"context"
	gosync "sync"
	"time"
)

// ScanFunc performs one pass over a source. It is only ever invoked from
// the poller's own goroutine.
type ScanFunc func(ctx context.Context)

// Poller runs a scan immediately on Start, then on every tick of a fixed
// interval and on every Trigger. Triggers that arrive while a scan is
// already pending collapse into one.
type Poller struct {
	interval  time.Duration
	scan      ScanFunc
	triggerCh chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}
	mu        gosync.Mutex
	running   bool
	stopped   bool
}

// New creates a Poller that calls scan every interval.
func New(interval time.Duration, scan ScanFunc) *Poller {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Poller{
		interval:  interval,
		scan:      scan,
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start launches the polling goroutine. ctx is handed to every scan; it is
// not used to stop the loop, which only Stop does. Calling Start more than
// once, or after Stop, has no effect.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running || p.stopped {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	go p.loop(ctx)
}

// Trigger requests a scan without blocking.
func (p *Poller) Trigger() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
		// A scan is already pending.
	}
}

// Stop halts the ticker. A scan in progress runs to completion. Safe to
// call repeatedly.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}
	p.stopped = true
	close(p.stopCh)
	if !p.running {
		close(p.doneCh)
	}
}

// Done is closed once the polling goroutine has exited.
func (p *Poller) Done() <-chan struct{} {
	return p.doneCh
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	if !p.isStopped() {
		p.scan(ctx)
	}

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
		case <-p.triggerCh:
		}

		if p.isStopped() {
			return
		}
		p.scan(ctx)
	}
}

func (p *Poller) isStopped() bool {
	select {
	case <-p.stopCh:
		return true
	default:
		return false
	}
}
