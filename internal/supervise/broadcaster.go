package supervise

import "sync"

// Broadcaster fans a process's output lines out to any number of subscribers
// and keeps a ring of recent lines so late subscribers (the URL extractor
// attaches after spawn) can replay what they missed.
type Broadcaster struct {
	clients map[chan string]bool
	history []string
	maxHist int
	closed  bool
	mu      sync.RWMutex
}

// NewBroadcaster creates a broadcaster with the given history size.
func NewBroadcaster(historySize int) *Broadcaster {
	if historySize <= 0 {
		historySize = 1000
	}
	return &Broadcaster{
		clients: make(map[chan string]bool),
		history: make([]string, 0, historySize),
		maxHist: historySize,
	}
}

// Subscribe registers a new client channel. After Close the returned channel
// is already closed.
func (b *Broadcaster) Subscribe() chan string {
	ch, _ := b.SubscribeWithHistory(0)
	return ch
}

// SubscribeWithHistory registers a client and returns up to historyLines of
// recent output. The history is returned as a slice rather than queued on
// the channel so a full buffer can't stall the replay.
func (b *Broadcaster) SubscribeWithHistory(historyLines int) (chan string, []string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan string, 100)
	if b.closed {
		close(ch)
	} else {
		b.clients[ch] = true
	}

	var history []string
	if historyLines > 0 && len(b.history) > 0 {
		start := len(b.history) - historyLines
		if start < 0 {
			start = 0
		}
		history = make([]string, len(b.history)-start)
		copy(history, b.history[start:])
	}
	return ch, history
}

// Unsubscribe removes a client and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.clients[ch] {
		delete(b.clients, ch)
		close(ch)
	}
}

// Broadcast records a line in history and delivers it to all subscribers.
// Slow subscribers with a full buffer are skipped rather than blocked on.
func (b *Broadcaster) Broadcast(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	if len(b.history) >= b.maxHist {
		b.history = b.history[1:]
	}
	b.history = append(b.history, line)

	for ch := range b.clients {
		select {
		case ch <- line:
		default:
		}
	}
}

// Close marks the stream ended: every subscriber channel is closed so readers
// observe stream closure as a terminal signal. Idempotent.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.clients {
		close(ch)
	}
	b.clients = make(map[chan string]bool)
}

// History returns a copy of the retained lines.
func (b *Broadcaster) History() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, len(b.history))
	copy(out, b.history)
	return out
}
