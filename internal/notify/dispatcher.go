package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/optx/option-engine/internal/metrics"
)

// Sink receives deduplicated events for delivery. *Hub implements it; tests
// substitute a recorder.
type Sink interface {
	Send(userID string, ev Event)
}

// Dispatcher fans out settlement events to a Sink, dropping repeat events
// for the same contract within a fixed window. The settlement engine's CAS
// already guarantees one emission per contract; this dedup is a second,
// independent net against duplicate deliveries (re-emits after reconnects
// or re-queued pushes), not a correctness mechanism.
type Dispatcher struct {
	sink   Sink
	window time.Duration
	retain time.Duration

	mu   sync.Mutex
	seen map[string]time.Time // contractID → last delivery
	stop chan struct{}
	once sync.Once
}

// NewDispatcher creates a dispatcher. window is how long a repeat event for
// the same contract is suppressed; retain bounds how long entries are kept
// before pruning.
func NewDispatcher(sink Sink, window, retain time.Duration) *Dispatcher {
	if window <= 0 {
		window = 5 * time.Second
	}
	if retain < window {
		retain = 10 * time.Minute
	}
	d := &Dispatcher{
		sink:   sink,
		window: window,
		retain: retain,
		seen:   make(map[string]time.Time),
		stop:   make(chan struct{}),
	}
	go d.pruneLoop()
	return d
}

// Publish delivers an event to the user's live sessions unless the same
// contract was delivered within the dedup window.
func (d *Dispatcher) Publish(userID string, ev Event) {
	now := time.Now()

	d.mu.Lock()
	if last, ok := d.seen[ev.ContractID]; ok && now.Sub(last) < d.window {
		d.mu.Unlock()
		metrics.NotificationsDeduplicated.Inc()
		slog.Debug("duplicate settlement event dropped", "contract", ev.ContractID)
		return
	}
	d.seen[ev.ContractID] = now
	d.mu.Unlock()

	d.sink.Send(userID, ev)
	metrics.NotificationsDelivered.Inc()
}

// Close stops the background pruning loop.
func (d *Dispatcher) Close() {
	d.once.Do(func() { close(d.stop) })
}

func (d *Dispatcher) pruneLoop() {
	ticker := time.NewTicker(d.retain / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.prune(time.Now())
		case <-d.stop:
			return
		}
	}
}

func (d *Dispatcher) prune(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, last := range d.seen {
		if now.Sub(last) > d.retain {
			delete(d.seen, id)
		}
	}
}
