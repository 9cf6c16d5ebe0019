package notify

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/mustafaturan/bus/v3"
	"github.com/phuslu/log"
	"nuha.dev/racetracker/internal/eventbus"
	"nuha.dev/racetracker/internal/tracking"
)

type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts finisher notices to an organizer chat. Sends happen on
// the Run goroutine so bus handlers never wait on the network.
type Telegram struct {
	bot    Sender
	chatID int64
	queue  chan string
	log    log.Logger
}

func NewTelegram(bot Sender, chatID int64, queueSize int) *Telegram {
	t := &Telegram{bot: bot, chatID: chatID, queue: make(chan string, queueSize)}
	t.log = log.DefaultLogger
	t.log.Context = log.NewContext(nil).Str("module", "telegram").Value()
	return t
}

func DialTelegram(token string, chatID int64) (*Telegram, error) {
	b, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	b.Debug = false
	return NewTelegram(b, chatID, 64), nil
}

// FinishText renders the notice for a completed session.
func FinishText(p tracking.ParticipantProgress) string {
	el := p.Elapsed.Round(time.Second)
	h := int(el.Hours())
	m := int(el.Minutes()) % 60
	s := int(el.Seconds()) % 60
	return fmt.Sprintf("🏁 #%d %s finished %s in %d:%02d:%02d", p.BibNumber, p.Nickname, p.CourseID, h, m, s)
}

// Handle queues a message for every session that reaches COMPLETED.
func (t *Telegram) Handle(ctx context.Context, e *bus.Event) {
	sc, ok := e.Data.(*eventbus.SessionChanged)
	if !ok || sc.To != tracking.COMPLETED {
		return
	}
	select {
	case t.queue <- FinishText(sc.Progress):
	default:
		t.log.Warn().Str("participant_id", sc.ParticipantID).Msg("telegram queue full, notice dropped")
	}
}

func (t *Telegram) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-t.queue:
			msg := tgbotapi.NewMessage(t.chatID, text)
			if _, err := t.bot.Send(msg); err != nil {
				t.log.Error().Err(err).Msg("error sending telegram message")
			}
		}
	}
}
