// Package keepalive implements the transport-level heartbeat (spec.md
// §4.F): a periodic native WebSocket ping, independent of the
// protocol-level "ping"/"pong" messages, that forcibly terminates the
// socket if a pong frame doesn't arrive within one interval.
package keepalive

import (
	"math"
	"sync"
	"time"
)

// Driver runs the keep-alive ping/pong-timeout cycle for one socket. It
// owns no socket reference directly: Ping and Terminate are supplied as
// callbacks so the driver stays decoupled from any concrete transport.
type Driver struct {
	interval  time.Duration
	ping      func() error
	terminate func()

	mu        sync.Mutex
	ticker    *time.Ticker
	pongTimer *time.Timer
	stopCh    chan struct{}
	stopped   bool
}

// New builds a Driver. A non-positive or non-finite interval disables
// the keep-alive entirely: Start becomes a no-op.
func New(interval time.Duration, ping func() error, terminate func()) *Driver {
	return &Driver{interval: interval, ping: ping, terminate: terminate}
}

func (d *Driver) enabled() bool {
	return d.interval > 0 && !math.IsInf(float64(d.interval), 0)
}

// Start begins the recurring ping cycle. Safe to call once per Driver.
func (d *Driver) Start() {
	if !d.enabled() {
		return
	}
	d.mu.Lock()
	if d.stopped || d.ticker != nil {
		d.mu.Unlock()
		return
	}
	d.ticker = time.NewTicker(d.interval)
	d.stopCh = make(chan struct{})
	ticker := d.ticker
	stopCh := d.stopCh
	d.mu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				d.tick()
			case <-stopCh:
				return
			}
		}
	}()
}

func (d *Driver) tick() {
	if err := d.ping(); err != nil {
		d.terminate()
		return
	}
	d.armPongTimer()
}

func (d *Driver) armPongTimer() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.pongTimer != nil {
		d.pongTimer.Stop()
	}
	d.pongTimer = time.AfterFunc(d.interval, d.terminate)
}

// Pong must be invoked whenever a transport-level pong frame arrives.
// It cancels the pending pongTimer, if any.
func (d *Driver) Pong() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pongTimer != nil {
		d.pongTimer.Stop()
		d.pongTimer = nil
	}
}

// Stop releases both timers. Safe to call multiple times and safe to
// call even if Start was never invoked (disabled driver).
func (d *Driver) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	if d.ticker != nil {
		d.ticker.Stop()
	}
	if d.stopCh != nil {
		close(d.stopCh)
	}
	if d.pongTimer != nil {
		d.pongTimer.Stop()
		d.pongTimer = nil
	}
}
