package mqtt

import (
	"context"
	"sort"
	"testing"
)

func sorted(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}

func equalSets(a, b []string) bool {
	a, b = sorted(a), sorted(b)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSubscribeActivatesTopics(t *testing.T) {
	c, _ := testClient(t)
	if err := c.Subscribe(context.Background(), []string{"a", "b"}, 1); err != nil {
		t.Fatal(err)
	}
	if !equalSets(c.ActiveTopics(), []string{"a", "b"}) {
		t.Errorf("active = %v, want [a b]", c.ActiveTopics())
	}
}

func TestSubscribeSkipsActiveAndPendingTopics(t *testing.T) {
	c, fake := testClient(t)
	if err := c.Subscribe(context.Background(), []string{"a", "b"}, 1); err != nil {
		t.Fatal(err)
	}
	// Overlapping second call: only "c" may go to the wire.
	if err := c.Subscribe(context.Background(), []string{"a", "b", "c"}, 1); err != nil {
		t.Fatal(err)
	}
	for _, topic := range []string{"a", "b", "c"} {
		if n := fake.subscribedTopicCount(topic); n != 1 {
			t.Errorf("wire subscribes for %q = %d, want 1", topic, n)
		}
	}
}

func TestUnsubscribeOnlyActiveSubset(t *testing.T) {
	c, fake := testClient(t)
	if err := c.Subscribe(context.Background(), []string{"a"}, 1); err != nil {
		t.Fatal(err)
	}
	// "ghost" was never subscribed; no wire unsubscribe may be issued for it.
	if err := c.Unsubscribe(context.Background(), []string{"ghost"}); err != nil {
		t.Fatal(err)
	}
	if len(fake.unsubscribeCalls) != 0 {
		t.Errorf("wire unsubscribes = %v, want none", fake.unsubscribeCalls)
	}
	if err := c.Unsubscribe(context.Background(), []string{"a"}); err != nil {
		t.Fatal(err)
	}
	if len(fake.unsubscribeCalls) != 1 || fake.unsubscribeCalls[0][0] != "a" {
		t.Errorf("wire unsubscribes = %v, want [[a]]", fake.unsubscribeCalls)
	}
}

// TestUnsubscribeDuringInFlightSubscribe covers the interleaving where a
// topic is unsubscribed before the broker acknowledged its subscribe. The
// just-acknowledged topic must not stay active.
func TestUnsubscribeDuringInFlightSubscribe(t *testing.T) {
	c, fake := testClient(t)

	gate := gatedToken()
	fake.mu.Lock()
	fake.nextSubscribeToken = gate
	fake.mu.Unlock()

	subDone := make(chan error, 1)
	go func() {
		subDone <- c.Subscribe(context.Background(), []string{"a"}, 1)
	}()

	// Wait until the request is on the wire, then unsubscribe while it is
	// still in flight.
	waitFor(t, func() bool { return fake.subscribedTopicCount("a") == 1 }, "subscribe request on the wire")
	if err := c.Unsubscribe(context.Background(), []string{"a"}); err != nil {
		t.Fatal(err)
	}

	gate.release()
	if err := <-subDone; err != nil {
		t.Fatal(err)
	}

	if len(c.ActiveTopics()) != 0 {
		t.Errorf("active = %v, want empty (topic dropped at ack time)", c.ActiveTopics())
	}
	// The stale subscription must have been dropped on the wire too.
	fake.mu.Lock()
	unsubs := len(fake.unsubscribeCalls)
	fake.mu.Unlock()
	if unsubs != 1 {
		t.Errorf("wire unsubscribes = %d, want 1 (stale subscription dropped)", unsubs)
	}
}

// TestConnectionLossDuringInFlightSubscribe covers the interleaving where
// the connection drops while a subscribe is awaiting its ack. The ack from
// the dead session must be discarded, the reconnect replay re-subscribes.
func TestConnectionLossDuringInFlightSubscribe(t *testing.T) {
	c, fake := testClient(t)

	gate := gatedToken()
	fake.mu.Lock()
	fake.nextSubscribeToken = gate
	fake.mu.Unlock()

	subDone := make(chan error, 1)
	go func() {
		subDone <- c.Subscribe(context.Background(), []string{"a"}, 1)
	}()

	waitFor(t, func() bool { return fake.subscribedTopicCount("a") == 1 }, "subscribe request on the wire")
	fake.lostConnection(nil)

	gate.release()
	if err := <-subDone; err != nil {
		t.Fatal(err)
	}

	// The ack resolved after the drop; it must not mark the topic active,
	// or the replay below would skip it and no live subscription would exist.
	if len(c.ActiveTopics()) != 0 {
		t.Fatalf("active after stale ack = %v, want empty", c.ActiveTopics())
	}

	fake.reconnect()
	waitFor(t, func() bool { return equalSets(c.ActiveTopics(), []string{"a"}) }, "desired set replayed")
	if n := fake.subscribedTopicCount("a"); n != 2 {
		t.Errorf("wire subscribes for a = %d, want 2 (replay re-issued after drop)", n)
	}
}

// TestConvergence drives a mixed subscribe/unsubscribe sequence and checks
// the final active set equals the most recent desired set.
func TestConvergence(t *testing.T) {
	c, _ := testClient(t)
	ctx := context.Background()

	steps := []struct {
		subscribe bool
		topics    []string
	}{
		{true, []string{"a", "b"}},
		{true, []string{"b", "c"}},
		{false, []string{"a"}},
		{true, []string{"d"}},
		{false, []string{"c", "d"}},
		{true, []string{"a"}},
	}
	for _, s := range steps {
		var err error
		if s.subscribe {
			err = c.Subscribe(ctx, s.topics, 1)
		} else {
			err = c.Unsubscribe(ctx, s.topics)
		}
		if err != nil {
			t.Fatal(err)
		}
	}

	want := []string{"a", "b"}
	if !equalSets(c.ActiveTopics(), want) {
		t.Errorf("active = %v, want %v", sorted(c.ActiveTopics()), want)
	}
	if !equalSets(c.DesiredTopics(), want) {
		t.Errorf("desired = %v, want %v", sorted(c.DesiredTopics()), want)
	}
}

// TestReconnectReplaysDesiredSet verifies a reconnecting -> connected
// transition re-subscribes exactly the desired topics with no leftovers.
func TestReconnectReplaysDesiredSet(t *testing.T) {
	c, fake := testClient(t)
	ctx := context.Background()
	if err := c.Subscribe(ctx, []string{"a", "b"}, 1); err != nil {
		t.Fatal(err)
	}
	if err := c.Unsubscribe(ctx, []string{"b"}); err != nil {
		t.Fatal(err)
	}

	fake.lostConnection(nil)
	if n := len(c.ActiveTopics()); n != 0 {
		t.Fatalf("active after connection lost = %d topics, want 0", n)
	}
	if !equalSets(c.DesiredTopics(), []string{"a"}) {
		t.Fatalf("desired preserved = %v, want [a]", c.DesiredTopics())
	}

	fake.reconnect()
	waitFor(t, func() bool { return equalSets(c.ActiveTopics(), []string{"a"}) }, "desired set replayed")

	// "b" left desired before the drop; it must not come back.
	if n := fake.subscribedTopicCount("b"); n != 1 {
		t.Errorf("wire subscribes for b = %d, want 1 (no replay for unsubscribed topic)", n)
	}
}

func TestSubscribeWhileDisconnectedRecordsIntent(t *testing.T) {
	c, fake := newTestClient(t)
	if err := c.Subscribe(context.Background(), []string{"a"}, 1); err != nil {
		t.Fatal(err)
	}
	if len(fake.subscribeCalls) != 0 {
		t.Fatalf("wire subscribes before connect = %d, want 0", len(fake.subscribeCalls))
	}
	if !equalSets(c.DesiredTopics(), []string{"a"}) {
		t.Fatalf("desired = %v, want [a]", c.DesiredTopics())
	}

	// Desired topics from before the session are subscribed on connect.
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return equalSets(c.ActiveTopics(), []string{"a"}) }, "pre-connect intent subscribed")
}

func TestInvalidSubscribeArguments(t *testing.T) {
	c, _ := testClient(t)
	if err := c.Subscribe(context.Background(), []string{""}, 1); err != ErrInvalidTopic {
		t.Errorf("empty topic err = %v, want ErrInvalidTopic", err)
	}
	if err := c.Subscribe(context.Background(), []string{"a"}, 3); err != ErrInvalidQoS {
		t.Errorf("qos 3 err = %v, want ErrInvalidQoS", err)
	}
}
