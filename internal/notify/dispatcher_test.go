package notify

import (
	"sync"
	"testing"
	"time"
)

// recorderSink captures delivered events.
type recorderSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorderSink) Send(_ string, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorderSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestPublish_DeliversFirstEvent(t *testing.T) {
	sink := &recorderSink{}
	d := NewDispatcher(sink, 5*time.Second, 10*time.Minute)
	defer d.Close()

	d.Publish("user1", Event{Type: "contract_settled", ContractID: "c1", UserID: "user1"})

	if sink.count() != 1 {
		t.Fatalf("expected 1 delivery, got %d", sink.count())
	}
}

func TestPublish_DropsDuplicateWithinWindow(t *testing.T) {
	sink := &recorderSink{}
	d := NewDispatcher(sink, 5*time.Second, 10*time.Minute)
	defer d.Close()

	ev := Event{Type: "contract_settled", ContractID: "c1", UserID: "user1"}
	d.Publish("user1", ev)
	d.Publish("user1", ev) // timer + sweeper re-emit
	d.Publish("user1", ev) // reconnect re-emit

	if sink.count() != 1 {
		t.Errorf("expected 1 delivery for duplicate events, got %d", sink.count())
	}
}

func TestPublish_DifferentContractsNotDeduplicated(t *testing.T) {
	sink := &recorderSink{}
	d := NewDispatcher(sink, 5*time.Second, 10*time.Minute)
	defer d.Close()

	d.Publish("user1", Event{Type: "contract_settled", ContractID: "c1", UserID: "user1"})
	d.Publish("user1", Event{Type: "contract_settled", ContractID: "c2", UserID: "user1"})

	if sink.count() != 2 {
		t.Errorf("expected 2 deliveries for distinct contracts, got %d", sink.count())
	}
}

func TestPublish_DeliversAgainAfterWindow(t *testing.T) {
	sink := &recorderSink{}
	d := NewDispatcher(sink, 20*time.Millisecond, 10*time.Minute)
	defer d.Close()

	ev := Event{Type: "contract_settled", ContractID: "c1", UserID: "user1"}
	d.Publish("user1", ev)
	d.Publish("user1", ev)

	time.Sleep(30 * time.Millisecond)
	d.Publish("user1", ev)

	if sink.count() != 2 {
		t.Errorf("expected redelivery after window expiry, got %d deliveries", sink.count())
	}
}

func TestPrune_DropsStaleEntries(t *testing.T) {
	sink := &recorderSink{}
	d := NewDispatcher(sink, 5*time.Second, 10*time.Minute)
	defer d.Close()

	d.Publish("user1", Event{Type: "contract_settled", ContractID: "c1", UserID: "user1"})
	d.Publish("user1", Event{Type: "contract_settled", ContractID: "c2", UserID: "user1"})

	d.prune(time.Now().Add(11 * time.Minute))

	d.mu.Lock()
	remaining := len(d.seen)
	d.mu.Unlock()
	if remaining != 0 {
		t.Errorf("expected pruned map, %d entries remain", remaining)
	}
}
