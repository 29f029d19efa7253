// Package delivery implements the Delivery component from spec §2: it
// broadcasts TranscriptionMessages to subscribers (the WebSocket transport
// in internal/server, and any other in-process listener) and keeps a bounded
// history for late joiners. Grounded on the teacher's broadcast fan-out
// goroutine pattern in internal/server, generalized from a single
// chat-response stream to an N-subscriber transcript broadcast (spec §5:
// "worker->subscribers: broadcast, capacity ~100. Slow subscribers lag, not
// block.").
package delivery

import (
	"sync"
	"time"

	"github.com/0xPD33/sonori-platform/internal/transcription"
)

const defaultSubscriberCapacity = 100

// Entry is one historical transcript, timestamped at delivery time.
type Entry struct {
	Message transcription.Message
	At      time.Time
}

// Broadcaster fans out transcription.Message values to any number of
// subscribers and retains a capped history. Absent subscribers are not an
// error (spec §6): Publish never blocks on a missing or slow listener.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan transcription.Message]struct{}

	histMu  sync.Mutex
	history []Entry
	maxHist int
}

// New constructs a Broadcaster retaining up to maxHistory entries (0 or less
// disables history: no entries are retained).
func New(maxHistory int) *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan transcription.Message]struct{}),
		maxHist:     maxHistory,
	}
}

// Subscribe registers a new listener and returns its channel plus an
// unsubscribe func. The channel is buffered (capacity ~100 per spec §5); a
// subscriber that falls behind has messages dropped for it, never blocking
// the publisher.
func (b *Broadcaster) Subscribe() (<-chan transcription.Message, func()) {
	ch := make(chan transcription.Message, defaultSubscriberCapacity)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[ch]; ok {
			delete(b.subscribers, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, unsubscribe
}

// Publish appends to history and fans the message out to every subscriber
// via a non-blocking send, matching the worker->subscribers channel
// semantics in spec §5. Intended as the publish callback handed to
// worker.New.
func (b *Broadcaster) Publish(msg transcription.Message) {
	b.appendHistory(msg)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (b *Broadcaster) appendHistory(msg transcription.Message) {
	if b.maxHist <= 0 {
		return
	}
	b.histMu.Lock()
	defer b.histMu.Unlock()
	b.history = append(b.history, Entry{Message: msg, At: time.Now()})
	if len(b.history) > b.maxHist {
		b.history = b.history[len(b.history)-b.maxHist:]
	}
}

// History returns a copy of the retained transcript entries, oldest first.
func (b *Broadcaster) History() []Entry {
	b.histMu.Lock()
	defer b.histMu.Unlock()
	out := make([]Entry, len(b.history))
	copy(out, b.history)
	return out
}

// Recent concatenates the text of every history entry delivered within the
// last d, space-joined, oldest first. Mirrors the teacher's
// GetRecentTranscript helper.
func (b *Broadcaster) Recent(d time.Duration) string {
	cutoff := time.Now().Add(-d)
	b.histMu.Lock()
	defer b.histMu.Unlock()

	var texts []string
	for _, e := range b.history {
		if e.At.After(cutoff) {
			texts = append(texts, e.Message.Text)
		}
	}
	out := ""
	for i, t := range texts {
		if i > 0 {
			out += " "
		}
		out += t
	}
	return out
}
