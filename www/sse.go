package www

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"repairedge/engine"
)

// SSEEvent is the typed envelope sent to SSE clients.
type SSEEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type sseClient struct {
	events chan SSEEvent
}

// EventHub fans engine events out to SSE clients. Slow clients lose events
// rather than stall the hub.
type EventHub struct {
	mu        sync.RWMutex
	clients   map[*sseClient]struct{}
	broadcast chan SSEEvent
	stopChan  chan struct{}
	snapshot  func() interface{}
}

// NewEventHub creates a hub. snapshot, if set, is sent to each new client as
// a "workflow" event so displays render before the next transition.
func NewEventHub(snapshot func() interface{}) *EventHub {
	return &EventHub{
		clients:   make(map[*sseClient]struct{}),
		broadcast: make(chan SSEEvent, 256),
		stopChan:  make(chan struct{}),
		snapshot:  snapshot,
	}
}

func (h *EventHub) Start() {
	go h.run()
}

func (h *EventHub) Stop() {
	select {
	case <-h.stopChan:
	default:
		close(h.stopChan)
	}
}

// Broadcast queues evt for every client; it is dropped if the hub is backed up.
func (h *EventHub) Broadcast(evt SSEEvent) {
	select {
	case h.broadcast <- evt:
	default:
	}
}

func (h *EventHub) register(c *sseClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *EventHub) unregister(c *sseClient) {
	h.mu.Lock()
	delete(h.clients, c)
	close(c.events)
	h.mu.Unlock()
}

func (h *EventHub) run() {
	for {
		select {
		case <-h.stopChan:
			return
		case evt := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.events <- evt:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}

// HandleSSE is the HTTP handler for SSE connections.
func (h *EventHub) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := &sseClient{events: make(chan SSEEvent, 64)}
	h.register(client)
	defer h.unregister(client)

	fmt.Fprintf(w, "event: connected\ndata: {}\n\n")
	if h.snapshot != nil {
		writeSSE(w, SSEEvent{Type: "workflow", Data: h.snapshot()})
	}
	flusher.Flush()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.stopChan:
			return
		case evt, ok := <-client.events:
			if !ok {
				return
			}
			writeSSE(w, evt)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, evt SSEEvent) {
	data, err := json.Marshal(evt.Data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
}

// SetupEngineListeners forwards device and workflow events to SSE clients,
// named after the event type.
func (h *EventHub) SetupEngineListeners(eng *engine.Engine) engine.SubscriberID {
	return eng.Events.SubscribeTypes(func(evt engine.Event) error {
		h.Broadcast(SSEEvent{Type: evt.Type.String(), Data: evt.Payload})
		return nil
	},
		engine.EventMoverStatus,
		engine.EventMoverConnected,
		engine.EventMoverDisconnected,
		engine.EventControllerStatus,
		engine.EventControllerConnected,
		engine.EventControllerDisconnected,
		engine.EventStageChanged,
		engine.EventTaskStarted,
		engine.EventItemSent,
		engine.EventItemRepaired,
		engine.EventTaskCompleted,
		engine.EventTaskError,
	)
}
