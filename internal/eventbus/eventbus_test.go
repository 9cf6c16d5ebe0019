package eventbus

import (
	"context"
	"sync"
	"testing"

	"github.com/mustafaturan/bus/v3"
	"nuha.dev/racetracker/internal/tracking"
)

func TestEmitReachesMatchingHandlers(t *testing.T) {
	b, err := New(1)
	if err != nil {
		t.Fatal(err)
	}
	var mu sync.Mutex
	got := map[string][]string{}
	record := func(key string) func(ctx context.Context, e *bus.Event) {
		return func(ctx context.Context, e *bus.Event) {
			mu.Lock()
			got[key] = append(got[key], e.Topic)
			mu.Unlock()
		}
	}
	Handle(b, "all", ".*", record("all"))
	Handle(b, "crossings", "^checkpoint\\.", record("crossings"))

	ctx := context.Background()
	if err := b.Emit(ctx, TopicPingAccepted, &PingAccepted{ParticipantID: "p1"}); err != nil {
		t.Fatal(err)
	}
	if err := b.Emit(ctx, TopicCheckpointCrossed, &tracking.CrossingEvent{ParticipantID: "p1"}); err != nil {
		t.Fatal(err)
	}
	if err := b.Emit(ctx, "unknown.topic", nil); err == nil {
		t.Errorf("emit to unregistered topic succeeded")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got["all"]) != 2 {
		t.Errorf("catch-all handler saw %v", got["all"])
	}
	if len(got["crossings"]) != 1 || got["crossings"][0] != TopicCheckpointCrossed {
		t.Errorf("crossing handler saw %v", got["crossings"])
	}
}
