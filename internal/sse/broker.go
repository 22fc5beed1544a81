// Package sse implements a Server-Sent Events broker that tells connected
// editor UIs when tabs open or close and when the snapshot history changes.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Event types.
const (
	TypeHistoryUpdated = "history.updated"
	TypeTabOpened      = "tab.opened"
	TypeTabClosed      = "tab.closed"
)

// Origin says who changed the history.
type Origin string

const (
	// OriginLocal is a change made by a tab of this process.
	OriginLocal Origin = "local"
	// OriginExternal is a change seen on the durable store from another process.
	OriginExternal Origin = "external"
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Broker manages SSE client connections and broadcasts events.
//
// Concurrency model: a single internal event loop (goroutine) owns mutable state
// (clients, history coalescing). Public methods communicate with this loop
// through channels, so no mutexes are required.
//
// history.updated is coalesced: at most one per window, and a change that
// lands inside the window is delivered when the window closes.
type Broker struct {
	window time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	historyCh     chan Origin
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a new SSE broker with the given history coalescing window.
func NewBroker(window time.Duration) *Broker {
	if window <= 0 {
		window = time.Second
	}

	b := &Broker{
		window:        window,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		historyCh:     make(chan Origin, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})

	var lastHistory time.Time
	var pending Origin
	var flushTimer *time.Timer
	var flushCh <-chan time.Time

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		msg := fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload)
		raw := []byte(msg)

		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Client buffer full; skip to avoid blocking broker loop.
			}
		}
	}

	emitHistory := func(origin Origin) {
		lastHistory = time.Now()
		broadcast(Event{Type: TypeHistoryUpdated, Data: map[string]string{"origin": string(origin)}})
	}

	for {
		select {
		case <-b.stopCh:
			if flushTimer != nil {
				flushTimer.Stop()
			}
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case origin := <-b.historyCh:
			if pending != "" {
				// Already scheduled; external wins so UIs reload from disk.
				if origin == OriginExternal {
					pending = origin
				}
				continue
			}
			wait := b.window - time.Since(lastHistory)
			if wait <= 0 {
				emitHistory(origin)
				continue
			}
			pending = origin
			if flushTimer == nil {
				flushTimer = time.NewTimer(wait)
				flushCh = flushTimer.C
			} else {
				flushTimer.Reset(wait)
			}

		case <-flushCh:
			if pending != "" {
				emitHistory(pending)
				pending = ""
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishTabEvent announces a tab opening or closing.
func (b *Broker) PublishTabEvent(eventType, tabID string) {
	b.Publish(Event{Type: eventType, Data: map[string]string{"tab_id": tabID}})
}

// PublishHistoryChange schedules a coalesced history.updated event.
func (b *Broker) PublishHistoryChange(origin Origin) {
	if b.closed.Load() {
		return
	}
	select {
	case b.historyCh <- origin:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
