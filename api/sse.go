package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"goenip/logging"
	"goenip/supervisor"
)

// SSE event type constants.
const (
	eventValueChange  = "value-change"
	eventStatusChange = "status-change"
	eventHealth       = "health"
)

// sseEvent is an internal event for the API SSE hub.
type sseEvent struct {
	Type string
	PLC  string // set when event is PLC-specific (for filtering)
	Tag  string // set when event is tag-specific (for filtering)
	Data interface{}
}

// apiValueUpdate is the JSON payload for value-change events.
type apiValueUpdate struct {
	PLC   string      `json:"plc"`
	Tag   string      `json:"tag"`
	Value interface{} `json:"value"`
	Type  string      `json:"type,omitempty"`
	Stale bool        `json:"stale,omitempty"`
}

// apiStatusUpdate is the JSON payload for status-change events.
type apiStatusUpdate struct {
	PLC         string `json:"plc"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	ProductName string `json:"productName,omitempty"`
}

// apiHealthUpdate is the JSON payload for health events.
type apiHealthUpdate struct {
	PLC       string `json:"plc"`
	Online    bool   `json:"online"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// apiSSEClient represents a connected SSE client.
type apiSSEClient struct {
	id     string
	events chan sseEvent
	done   chan struct{}
}

// eventHub manages SSE client connections and broadcasts events.
type eventHub struct {
	clients    map[string]*apiSSEClient
	register   chan *apiSSEClient
	unregister chan *apiSSEClient
	broadcast  chan sseEvent
	mu         sync.RWMutex
	done       chan struct{}
}

func newEventHub() *eventHub {
	hub := &eventHub{
		clients:    make(map[string]*apiSSEClient),
		register:   make(chan *apiSSEClient),
		unregister: make(chan *apiSSEClient),
		broadcast:  make(chan sseEvent, 256),
		done:       make(chan struct{}),
	}
	go hub.run()
	return hub
}

func (h *eventHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.events)
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.mu.RLock()
			for _, client := range h.clients {
				select {
				case client.events <- event:
				default:
					logging.DebugLog("api-sse", "client %s buffer full, dropping %s event", client.id, event.Type)
				}
			}
			h.mu.RUnlock()

		case <-h.done:
			h.mu.Lock()
			for id, client := range h.clients {
				close(client.events)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *eventHub) Broadcast(event sseEvent) {
	select {
	case h.broadcast <- event:
	default:
		logging.DebugLog("api-sse", "broadcast channel full, dropping %s event", event.Type)
	}
}

func (h *eventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *eventHub) Stop() {
	close(h.done)
}

// handleSSE serves the /events SSE endpoint.
func (h *handlers) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	var typeFilter map[string]bool
	if types := r.URL.Query().Get("types"); types != "" {
		typeFilter = make(map[string]bool)
		for _, t := range strings.Split(types, ",") {
			typeFilter[strings.TrimSpace(t)] = true
		}
	}
	var plcsFilter map[string]bool
	if plcs := r.URL.Query().Get("plcs"); plcs != "" {
		plcsFilter = make(map[string]bool)
		for _, p := range strings.Split(plcs, ",") {
			plcsFilter[strings.TrimSpace(p)] = true
		}
	}

	clientID := fmt.Sprintf("api-%d", time.Now().UnixNano())
	client := &apiSSEClient{
		id:     clientID,
		events: make(chan sseEvent, 64),
		done:   make(chan struct{}),
	}

	h.hub.register <- client

	notify := r.Context().Done()

	fmt.Fprintf(w, "event: connected\ndata: {\"id\":%q}\n\n", clientID)
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-notify:
			h.hub.unregister <- client
			return

		case event, ok := <-client.events:
			if !ok {
				return
			}
			if typeFilter != nil && !typeFilter[event.Type] {
				continue
			}
			if plcsFilter != nil && event.PLC != "" && !plcsFilter[event.PLC] {
				continue
			}
			data, err := json.Marshal(event.Data)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, string(data))
			flusher.Flush()

		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// setupSSE wires the supervisor's value-change and status-change listeners
// to broadcast SSE events. Returns a cleanup function that removes all
// listeners and stops the hub.
func (h *handlers) setupSSE() func() {
	h.valueListenerID = h.manager.AddOnValueChangeListener(func(c supervisor.ValueChange) {
		update := apiValueUpdate{PLC: c.PLCName, Tag: c.Tag, Stale: c.Stale}
		if c.Value != nil {
			update.Value = c.Value.GoValue()
			update.Type = c.Value.TypeName()
		}
		h.hub.Broadcast(sseEvent{Type: eventValueChange, PLC: c.PLCName, Tag: c.Tag, Data: update})
	})

	h.statusListenerID = h.manager.AddOnStatusChangeListener(func(name string) {
		plc := h.manager.GetPLC(name)
		if plc == nil {
			return
		}
		update := apiStatusUpdate{PLC: name, Status: plc.GetStatus().String()}
		if err := plc.GetError(); err != nil {
			update.Error = err.Error()
		}
		if info := plc.GetDeviceInfo(); info != nil {
			update.ProductName = info.ProductName
		}
		h.hub.Broadcast(sseEvent{Type: eventStatusChange, PLC: name, Data: update})
	})

	go h.pollHealth()

	return func() {
		h.hub.Stop()
		h.manager.RemoveOnValueChangeListener(h.valueListenerID)
		h.manager.RemoveOnStatusChangeListener(h.statusListenerID)
	}
}

// pollHealth broadcasts health events for all PLCs on a 10s ticker.
func (h *handlers) pollHealth() {
	select {
	case <-time.After(2 * time.Second):
	case <-h.hub.done:
		return
	}

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-h.hub.done:
			return
		case <-ticker.C:
			if h.hub.ClientCount() == 0 {
				continue
			}
			for _, plc := range h.manager.ListPLCs() {
				health := h.manager.CheckHealth(plc.Config.Name)
				h.hub.Broadcast(sseEvent{
					Type: eventHealth,
					PLC:  plc.Config.Name,
					Data: apiHealthUpdate{
						PLC:       plc.Config.Name,
						Online:    health.Online,
						Status:    health.Status,
						Error:     health.Error,
						Timestamp: health.Timestamp.Format(time.RFC3339),
					},
				})
			}
		}
	}
}
