package stream

import (
	"testing"
	"time"
)

func TestHubPublishSubscribe(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("", 4)
	defer hub.Unsubscribe(sub)

	hub.Publish(NewEvent("audit.created", "tenant-1", map[string]string{"entity_id": "p1"}))
	select {
	case evt := <-sub:
		if evt.Type != "audit.created" || evt.Tenant != "tenant-1" {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestHubTenantFilter(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("tenant-1", 4)
	defer hub.Unsubscribe(sub)

	hub.Publish(NewEvent("audit.created", "tenant-2", nil))
	hub.Publish(NewEvent("audit.updated", "tenant-1", nil))

	select {
	case evt := <-sub:
		if evt.Tenant != "tenant-1" {
			t.Fatalf("received foreign tenant event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
	select {
	case evt := <-sub:
		t.Fatalf("unexpected extra event: %+v", evt)
	default:
	}
}

func TestHubSlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("", 1)
	defer hub.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Publish(NewEvent("audit.updated", "t", nil))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("", 1)
	hub.Unsubscribe(sub)
	if _, ok := <-sub; ok {
		t.Fatal("expected closed channel")
	}
	// Second unsubscribe is a no-op.
	hub.Unsubscribe(sub)
}
