package feedback

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is one narrated phrase, optionally with spoken audio.
type Event struct {
	Text        string    `json:"text"`
	AudioBase64 string    `json:"audio_base64,omitempty"`
	At          time.Time `json:"at"`
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Broadcaster fans narrated phrases out to subscribers. Slow subscribers
// miss events rather than blocking the loop.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool

	tts    Synthesizer
	logger *zap.Logger
}

// NewBroadcaster returns a broadcaster. tts may be nil for text-only events.
func NewBroadcaster(tts Synthesizer, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event), tts: tts, logger: logger}
}

// Subscribe returns an event channel and a function that ends the subscription.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, 8)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

func (b *Broadcaster) Narrate(ctx context.Context, phrase string) {
	ev := Event{Text: phrase, At: time.Now()}
	if b.tts != nil {
		audio, err := b.tts.Synthesize(ctx, phrase)
		if err != nil {
			b.logger.Debug("speech synthesis failed", zap.Error(err))
		} else {
			ev.AudioBase64 = base64.StdEncoding.EncodeToString(audio)
		}
	}
	b.Publish(ev)
}

func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close ends every subscription.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
