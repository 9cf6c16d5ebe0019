package notify

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/mustafaturan/bus/v3"
	"nuha.dev/racetracker/internal/eventbus"
	"nuha.dev/racetracker/internal/tracking"
)

type fakePub struct {
	subj []string
	data [][]byte
}

func (f *fakePub) Publish(subj string, data []byte) error {
	f.subj = append(f.subj, subj)
	f.data = append(f.data, data)
	return nil
}

func TestNatsRepublish(t *testing.T) {
	pub := &fakePub{}
	n := NewNatsPublisher(pub, "race")
	n.Handle(context.Background(), &bus.Event{Topic: eventbus.TopicCheckpointCrossed, Data: &tracking.CrossingEvent{ParticipantID: "p1", CheckpointIndex: 2}})
	if len(pub.subj) != 1 || pub.subj[0] != "race.checkpoint.crossed" {
		t.Fatalf("published on %v", pub.subj)
	}
	var ev tracking.CrossingEvent
	if err := json.Unmarshal(pub.data[0], &ev); err != nil || ev.CheckpointIndex != 2 {
		t.Errorf("payload %s: %v", pub.data[0], err)
	}
}

type fakeBot struct {
	sent chan tgbotapi.Chattable
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent <- c
	return tgbotapi.Message{}, nil
}

func TestTelegramOnlyFinishers(t *testing.T) {
	bot := &fakeBot{sent: make(chan tgbotapi.Chattable, 4)}
	tg := NewTelegram(bot, 42, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tg.Run(ctx)

	stop := &eventbus.SessionChanged{Transition: tracking.Transition{ParticipantID: "p1", To: tracking.STOPPED}}
	tg.Handle(ctx, &bus.Event{Topic: eventbus.TopicSessionChanged, Data: stop})
	done := &eventbus.SessionChanged{
		Transition: tracking.Transition{ParticipantID: "p2", To: tracking.COMPLETED},
		Progress:   tracking.ParticipantProgress{ParticipantID: "p2", CourseID: "city-10k", Nickname: "Budi", BibNumber: 102, Elapsed: 42*time.Minute + 7*time.Second},
	}
	tg.Handle(ctx, &bus.Event{Topic: eventbus.TopicSessionChanged, Data: done})

	select {
	case c := <-bot.sent:
		msg, ok := c.(tgbotapi.MessageConfig)
		if !ok || msg.ChatID != 42 || !strings.Contains(msg.Text, "#102 Budi") || !strings.Contains(msg.Text, "0:42:07") {
			t.Errorf("unexpected message %+v", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message sent")
	}
	select {
	case c := <-bot.sent:
		t.Errorf("unexpected second message %+v", c)
	case <-time.After(50 * time.Millisecond):
	}
}
