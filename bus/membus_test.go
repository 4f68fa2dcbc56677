package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/petal-labs/strata/runtime"
)

// drain counts events arriving on sub until it goes quiet.
func drain(sub Subscription, quiet time.Duration) []runtime.Event {
	var got []runtime.Event
	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				return got
			}
			got = append(got, e)
		case <-time.After(quiet):
			return got
		}
	}
}

func TestMemBus_PublishSubscribe(t *testing.T) {
	b := NewMemBus(MemBusConfig{})
	defer b.Close()

	sub := b.Subscribe("run-1")
	defer sub.Close()

	b.Publish(runtime.NewEvent(runtime.EventRunStarted, "run-1"))

	select {
	case received := <-sub.Events():
		if received.Kind != runtime.EventRunStarted {
			t.Errorf("got kind %v, want %v", received.Kind, runtime.EventRunStarted)
		}
		if received.RunID != "run-1" {
			t.Errorf("got RunID %q, want %q", received.RunID, "run-1")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestMemBus_FanOut(t *testing.T) {
	b := NewMemBus(MemBusConfig{})
	defer b.Close()

	subs := []Subscription{b.Subscribe("run-1"), b.Subscribe("run-1"), b.Subscribe("run-1")}
	for _, s := range subs {
		defer s.Close()
	}

	b.Publish(runtime.NewEvent(runtime.EventComponentStarted, "run-1").WithComponent("Counter", "process"))

	for i, sub := range subs {
		select {
		case e := <-sub.Events():
			if e.Component != "Counter" {
				t.Errorf("sub%d: got component %q", i, e.Component)
			}
		case <-time.After(time.Second):
			t.Fatalf("sub%d: timed out", i)
		}
	}
}

func TestMemBus_RunIsolation(t *testing.T) {
	b := NewMemBus(MemBusConfig{})
	defer b.Close()

	sub1 := b.Subscribe("run-1")
	defer sub1.Close()
	sub2 := b.Subscribe("run-2")
	defer sub2.Close()

	b.Publish(runtime.NewEvent(runtime.EventRunStarted, "run-1"))

	if got := drain(sub1, 50*time.Millisecond); len(got) != 1 {
		t.Fatalf("sub1 received %d events, want 1", len(got))
	}
	if got := drain(sub2, 50*time.Millisecond); len(got) != 0 {
		t.Fatalf("sub2 should not receive run-1 events, got %d", len(got))
	}
}

func TestMemBus_SubscribeAll(t *testing.T) {
	b := NewMemBus(MemBusConfig{})
	defer b.Close()

	runSub := b.Subscribe("run-1")
	defer runSub.Close()
	global := b.SubscribeAll()
	defer global.Close()

	for _, id := range []string{"run-1", "run-2", "run-3"} {
		b.Publish(runtime.NewEvent(runtime.EventRunStarted, id))
	}

	if got := drain(global, 50*time.Millisecond); len(got) != 3 {
		t.Errorf("global subscriber got %d events, want 3", len(got))
	}
	if got := drain(runSub, 50*time.Millisecond); len(got) != 1 {
		t.Errorf("run subscriber got %d events, want 1", len(got))
	}
}

func TestMemBus_KindFilter(t *testing.T) {
	b := NewMemBus(MemBusConfig{})
	defer b.Close()

	failures := b.SubscribeAll(runtime.EventComponentFailed, runtime.EventRunFinished)
	defer failures.Close()

	for _, kind := range []runtime.EventKind{
		runtime.EventRunStarted,
		runtime.EventComponentStarted,
		runtime.EventComponentFailed,
		runtime.EventIterationStarted,
		runtime.EventRunFinished,
	} {
		b.Publish(runtime.NewEvent(kind, "run-1"))
	}

	got := drain(failures, 50*time.Millisecond)
	if len(got) != 2 {
		t.Fatalf("filtered subscriber got %d events, want 2", len(got))
	}
	if got[0].Kind != runtime.EventComponentFailed || got[1].Kind != runtime.EventRunFinished {
		t.Errorf("got kinds %s, %s", got[0].Kind, got[1].Kind)
	}
}

func TestMemBus_CloseSubscriptionDetaches(t *testing.T) {
	b := NewMemBus(MemBusConfig{})
	defer b.Close()

	sub := b.Subscribe("run-1")
	all := b.SubscribeAll()
	if n := b.subscriberCount(); n != 2 {
		t.Fatalf("subscriberCount = %d, want 2", n)
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("first Close returned error: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("second Close returned error: %v", err)
	}
	_ = all.Close()

	if n := b.subscriberCount(); n != 0 {
		t.Errorf("subscriberCount after Close = %d, want 0", n)
	}

	// Publishing after subscription close should not panic.
	b.Publish(runtime.NewEvent(runtime.EventRunStarted, "run-1"))
}

func TestMemBus_ClosedBus(t *testing.T) {
	b := NewMemBus(MemBusConfig{})

	sub := b.Subscribe("run-1")
	b.Close()

	b.Publish(runtime.NewEvent(runtime.EventRunStarted, "run-1"))

	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Fatal("expected channel to be closed after bus Close")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for closed channel")
	}

	late := b.SubscribeAll()
	if _, ok := <-late.Events(); ok {
		t.Fatal("subscribing to a closed bus should return a closed subscription")
	}
	_ = sub.Close()
}

func TestMemBus_BufferSize(t *testing.T) {
	if b := NewMemBus(MemBusConfig{}); b.bufSize != 256 {
		t.Errorf("default buffer size = %d, want 256", b.bufSize)
	}

	b := NewMemBus(MemBusConfig{SubscriberBufferSize: 2})
	defer b.Close()

	sub := b.Subscribe("run-1")
	defer sub.Close()

	// Publish 5 events into a buffer of size 2; extras are dropped.
	for range 5 {
		b.Publish(runtime.NewEvent(runtime.EventIterationStarted, "run-1"))
	}
	if got := drain(sub, 50*time.Millisecond); len(got) != 2 {
		t.Errorf("received %d events, want 2 (buffer size)", len(got))
	}
}

func TestMemBus_ConcurrentPublish(t *testing.T) {
	b := NewMemBus(MemBusConfig{SubscriberBufferSize: 1000})
	defer b.Close()

	sub := b.Subscribe("run-1")
	defer sub.Close()

	const n = 100
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Publish(runtime.NewEvent(runtime.EventComponentFinished, "run-1"))
		}()
	}
	wg.Wait()

	if got := drain(sub, 100*time.Millisecond); len(got) != n {
		t.Errorf("received %d events, want %d", len(got), n)
	}
}

func TestMemBus_ConcurrentSubscribePublish(t *testing.T) {
	b := NewMemBus(MemBusConfig{SubscriberBufferSize: 100})
	defer b.Close()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub := b.Subscribe("run-1")
			defer sub.Close()
			b.Publish(runtime.NewEvent(runtime.EventComponentStarted, "run-1"))
		}()
		go func() {
			defer wg.Done()
			sub := b.SubscribeAll(runtime.EventRunStarted)
			defer sub.Close()
			b.Publish(runtime.NewEvent(runtime.EventRunStarted, "run-1"))
		}()
	}
	wg.Wait()

	if n := b.subscriberCount(); n != 0 {
		t.Errorf("subscriberCount = %d, want 0", n)
	}
}
