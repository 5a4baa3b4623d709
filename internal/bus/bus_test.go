package bus

import (
	"sync"
	"testing"
	"time"
)

func TestBus_PublishFansOutToAllSubscribers(t *testing.T) {
	b := New()
	var mu sync.Mutex
	var got []string

	for _, id := range []string{"a", "b", "c"} {
		id := id
		b.Subscribe("topic", func(topic string, payload any) {
			mu.Lock()
			got = append(got, id)
			mu.Unlock()
		})
	}

	b.Publish("topic", "payload")
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	})
}

func TestBus_PublishDoesNotBlockOnASlowSubscriber(t *testing.T) {
	b := New()
	b.Subscribe("slow", func(topic string, payload any) {
		time.Sleep(200 * time.Millisecond)
	})

	done := make(chan struct{})
	go func() {
		b.Publish("slow", nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(50 * time.Millisecond):
		t.Fatal("Publish blocked on a slow subscriber instead of returning immediately")
	}
}

func TestBus_HandlerPanicIsRecoveredAndDoesNotAffectOtherHandlers(t *testing.T) {
	b := New()
	var mu sync.Mutex
	otherRan := false

	b.Subscribe("topic", func(topic string, payload any) {
		panic("boom")
	})
	b.Subscribe("topic", func(topic string, payload any) {
		mu.Lock()
		otherRan = true
		mu.Unlock()
	})

	b.Publish("topic", nil)
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return otherRan
	})
}

func TestBus_PublishOnlyReachesSubscribersOfThatTopic(t *testing.T) {
	b := New()
	var mu sync.Mutex
	hitA, hitB := false, false

	b.Subscribe("a", func(topic string, payload any) { mu.Lock(); hitA = true; mu.Unlock() })
	b.Subscribe("b", func(topic string, payload any) { mu.Lock(); hitB = true; mu.Unlock() })

	b.Publish("a", nil)
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return hitA
	})

	mu.Lock()
	gotB := hitB
	mu.Unlock()
	if gotB {
		t.Error("subscriber to topic b should not receive a publish on topic a")
	}
}

func TestDefault_ReturnsTheSameBusEveryCall(t *testing.T) {
	if Default() != Default() {
		t.Error("Default() should return the same process-wide bus instance")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}
