package eventbus_test

import (
	"testing"
	"time"

	"github.com/sescanella/spoolflow/eventbus"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus := eventbus.New()
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	bus.Publish(eventbus.Event{Kind: eventbus.KindIniciar, TagSpool: "OT-001", Timestamp: time.Now()})

	select {
	case evt := <-sub.Events:
		if evt.TagSpool != "OT-001" || evt.Kind != eventbus.KindIniciar {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	bus := eventbus.New()
	sub1 := bus.Subscribe()
	sub2 := bus.Subscribe()
	defer sub1.Unsubscribe()
	defer sub2.Unsubscribe()

	bus.Publish(eventbus.Event{Kind: eventbus.KindCompletar, TagSpool: "OT-002"})

	for i, sub := range []*eventbus.Subscription{sub1, sub2} {
		select {
		case <-sub.Events:
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d never received the event", i)
		}
	}
}

// TestPublishNeverBlocksOnFullBuffer covers the best-effort
// at-most-once delivery contract of §4.10/§9: a slow subscriber's full
// buffer causes dropped events rather than blocking the publisher.
func TestPublishNeverBlocksOnFullBuffer(t *testing.T) {
	bus := eventbus.New()
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			bus.Publish(eventbus.Event{Kind: eventbus.KindStateChange, TagSpool: "OT-003"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a slow/unread subscriber buffer")
	}
}

func TestUnsubscribeClosesChannelAndRemovesSubscriber(t *testing.T) {
	bus := eventbus.New()
	sub := bus.Subscribe()
	if bus.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", bus.SubscriberCount())
	}

	sub.Unsubscribe()
	if bus.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers after unsubscribe, got %d", bus.SubscriberCount())
	}

	if _, open := <-sub.Events; open {
		t.Fatal("expected channel to be closed after unsubscribe")
	}
}

func TestHeartbeatIntervalIsFifteenSeconds(t *testing.T) {
	if eventbus.HeartbeatInterval() != 15*time.Second {
		t.Fatalf("expected 15s heartbeat interval, got %s", eventbus.HeartbeatInterval())
	}
}
