// Package api exposes a read-only status and metrics view of the
// supervised controllers over HTTP, plus a tag write endpoint and a
// Server-Sent Events stream for live value/status changes.
package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"goenip/errs"
	"goenip/supervisor"
)

// PLCResponse is the JSON response for PLC info.
type PLCResponse struct {
	Name        string `json:"name"`
	Address     string `json:"address"`
	Slot        byte   `json:"slot"`
	Status      string `json:"status"`
	ProductName string `json:"product_name,omitempty"`
	Error       string `json:"error,omitempty"`
}

// TagResponse is the JSON response for a tag value.
type TagResponse struct {
	PLC   string      `json:"plc"`
	Name  string      `json:"name"`
	Type  string      `json:"type"`
	Value interface{} `json:"value"`
	Error string      `json:"error,omitempty"`
}

// HealthResponse is the JSON structure for PLC health status.
type HealthResponse struct {
	PLC       string `json:"plc"`
	Online    bool   `json:"online"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// WriteRequest is the JSON request for writing a tag value.
type WriteRequest struct {
	Tag   string      `json:"tag"`
	Value interface{} `json:"value"`
}

// WriteResponse is the JSON response after writing a tag value.
type WriteResponse struct {
	PLC       string      `json:"plc"`
	Tag       string      `json:"tag"`
	Value     interface{} `json:"value"`
	Success   bool        `json:"success"`
	Error     string      `json:"error,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// handlers holds the API handler functions.
type handlers struct {
	manager          *supervisor.Manager
	hub              *eventHub
	valueListenerID  supervisor.ListenerID
	statusListenerID supervisor.ListenerID
}

// NewRouter creates the status/metrics API router over manager.
// Returns the router and a cleanup function that stops the SSE hub and
// removes listeners.
func NewRouter(manager *supervisor.Manager) (chi.Router, func()) {
	r := chi.NewRouter()
	h := &handlers{manager: manager, hub: newEventHub()}

	cleanup := h.setupSSE()

	r.Get("/events", h.handleSSE)
	r.Get("/", h.handleListPLCs)

	r.Route("/{plc}", func(r chi.Router) {
		r.Get("/", h.handlePLCDetails)
		r.Get("/health", h.handlePLCHealth)
		r.Get("/tags", h.handleAllTags)
		r.Get("/tags/*", h.handleSingleTag)
		r.Post("/write", h.handleWrite)
	})

	return r, cleanup
}

func (h *handlers) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (h *handlers) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func plcResponse(plc *supervisor.ManagedPLC) PLCResponse {
	resp := PLCResponse{
		Name:    plc.Config.Name,
		Address: plc.Config.Address,
		Slot:    plc.Config.Slot,
		Status:  plc.GetStatus().String(),
	}
	if info := plc.GetDeviceInfo(); info != nil {
		resp.ProductName = info.ProductName
	}
	if err := plc.GetError(); err != nil {
		resp.Error = err.Error()
	}
	return resp
}

func (h *handlers) handleListPLCs(w http.ResponseWriter, r *http.Request) {
	plcs := h.manager.ListPLCs()
	response := make([]PLCResponse, 0, len(plcs))
	for _, plc := range plcs {
		response = append(response, plcResponse(plc))
	}
	h.writeJSON(w, response)
}

func (h *handlers) handlePLCDetails(w http.ResponseWriter, r *http.Request) {
	plc := h.manager.GetPLC(urlParam(r, "plc"))
	if plc == nil {
		h.writeError(w, http.StatusNotFound, "PLC not found")
		return
	}
	h.writeJSON(w, plcResponse(plc))
}

func (h *handlers) handlePLCHealth(w http.ResponseWriter, r *http.Request) {
	plcName := urlParam(r, "plc")
	if h.manager.GetPLC(plcName) == nil {
		h.writeError(w, http.StatusNotFound, "PLC not found")
		return
	}

	health := h.manager.CheckHealth(plcName)
	h.writeJSON(w, HealthResponse{
		PLC:       plcName,
		Online:    health.Online,
		Status:    health.Status,
		Error:     health.Error,
		Timestamp: health.Timestamp.Format(time.RFC3339),
	})
}

func (h *handlers) handleAllTags(w http.ResponseWriter, r *http.Request) {
	plcName := urlParam(r, "plc")
	plc := h.manager.GetPLC(plcName)
	if plc == nil {
		h.writeError(w, http.StatusNotFound, "PLC not found")
		return
	}

	values := plc.GetValues()
	response := make(map[string]TagResponse, len(values))
	for name, v := range values {
		resp := TagResponse{PLC: plcName, Name: name, Type: v.TypeName(), Value: v.GoValue()}
		if v.Error != nil {
			resp.Error = v.Error.Error()
		}
		response[name] = resp
	}
	h.writeJSON(w, response)
}

func (h *handlers) handleSingleTag(w http.ResponseWriter, r *http.Request) {
	plcName := urlParam(r, "plc")
	tagName := urlParam(r, "*")

	plc := h.manager.GetPLC(plcName)
	if plc == nil {
		h.writeError(w, http.StatusNotFound, "PLC not found")
		return
	}

	if v, ok := plc.GetValues()[tagName]; ok {
		resp := TagResponse{PLC: plcName, Name: tagName, Type: v.TypeName(), Value: v.GoValue()}
		if v.Error != nil {
			resp.Error = v.Error.Error()
		}
		h.writeJSON(w, resp)
		return
	}

	v, err := h.manager.ReadTag(plcName, tagName)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, TagResponse{PLC: plcName, Name: tagName, Type: v.TypeName(), Value: v.GoValue()})
}

func (h *handlers) handleWrite(w http.ResponseWriter, r *http.Request) {
	plcName := urlParam(r, "plc")
	plc := h.manager.GetPLC(plcName)
	if plc == nil {
		h.writeError(w, http.StatusNotFound, "PLC not found")
		return
	}

	var req WriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if plc.GetStatus() != supervisor.StatusConnected {
		h.writeWriteResult(w, http.StatusServiceUnavailable, plcName, req, "PLC not connected")
		return
	}

	resultChan := make(chan error, 1)
	go func() { resultChan <- h.manager.WriteTag(plcName, req.Tag, req.Value) }()

	var writeErr error
	select {
	case writeErr = <-resultChan:
	case <-time.After(3 * time.Second):
		writeErr = errs.New(errs.KindTimeout, "write timeout: PLC did not respond within 3 seconds")
	}

	if writeErr != nil {
		h.writeWriteResult(w, http.StatusInternalServerError, plcName, req, writeErr.Error())
		return
	}

	h.writeJSON(w, WriteResponse{
		PLC: plcName, Tag: req.Tag, Value: req.Value, Success: true,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *handlers) writeWriteResult(w http.ResponseWriter, status int, plcName string, req WriteRequest, errMsg string) {
	w.WriteHeader(status)
	h.writeJSON(w, WriteResponse{
		PLC: plcName, Tag: req.Tag, Value: req.Value, Success: false,
		Error: errMsg, Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// urlParam unescapes a chi URL parameter.
func urlParam(r *http.Request, key string) string {
	v := chi.URLParam(r, key)
	unescaped, err := url.PathUnescape(v)
	if err != nil {
		return v
	}
	return unescaped
}
