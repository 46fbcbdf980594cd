// Package relay exposes the HTTP surface used by the backend: event intake,
// dispatch cancellation and connection introspection.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/kilianp07/shiprelay/core/logger"
	"github.com/kilianp07/shiprelay/core/model"
	"github.com/kilianp07/shiprelay/core/registry"
	"github.com/kilianp07/shiprelay/core/transport"
	"github.com/kilianp07/shiprelay/infra/upstream"
)

// Event names accepted by POST /emit.
const (
	EventShipmentCreated      = "shipment_created"
	EventShipmentPriceUpdated = "shipment_price_updated"
	EventBidPlaced            = "bid_placed"
)

// Dispatcher runs and cancels dispatches.
type Dispatcher interface {
	Dispatch(ctx context.Context, req model.DispatchRequest, kind model.StrategyKind) (model.Outcome, error)
	Cancel(id model.RequestID) bool
	Pending(id model.RequestID) bool
}

// Backend is the part of the upstream client the handlers use.
type Backend interface {
	IsAssigned(ctx context.Context, shipmentID, authz string) (bool, error)
	NearestEntities(ctx context.Context, lat, long, authz string) (upstream.Nearest, error)
	SendNotifications(ctx context.Context, n upstream.Notification, authz string) error
	ReportOutcome(ctx context.Context, o model.Outcome, authz string) error
}

// Directory resolves actors to live connections.
type Directory interface {
	Lookup(actor model.ActorID) (model.ConnID, bool)
	Snapshot() []registry.Binding
}

// Options tunes the handler.
type Options struct {
	// Strategy is used when a request does not pick one.
	Strategy model.StrategyKind
	// WaitForOutcome makes /emit answer with the outcome instead of 202.
	WaitForOutcome bool
}

// Handler serves the relay API. Background dispatches started by /emit are
// bound to the handler and stopped by Close.
type Handler struct {
	dispatcher Dispatcher
	backend    Backend
	dir        Directory
	sender     transport.Sender
	opts       Options
	validate   *validator.Validate
	log        logger.Logger

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

// NewHandler builds the handler. All dependencies are required.
func NewHandler(d Dispatcher, b Backend, dir Directory, sender transport.Sender, opts Options, log logger.Logger) (*Handler, error) {
	if d == nil || b == nil || dir == nil || sender == nil {
		return nil, errors.New("relay handler: dispatcher, backend, directory and sender are required")
	}
	if opts.Strategy == 0 {
		opts.Strategy = model.StrategySequential
	}
	base, stop := context.WithCancel(context.Background())
	return &Handler{
		dispatcher: d,
		backend:    b,
		dir:        dir,
		sender:     sender,
		opts:       opts,
		validate:   validator.New(),
		log:        logger.OrNop(log),
		base:       base,
		stop:       stop,
	}, nil
}

// Register mounts the relay routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /emit", h.emit)
	mux.HandleFunc("GET /debug/clients", h.clients)
	mux.HandleFunc("POST /api/dispatch/{id}/cancel", h.cancel)
	mux.HandleFunc("GET /ping", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

// Close cancels background dispatches and waits for them to return.
func (h *Handler) Close() {
	h.stop()
	h.wg.Wait()
}

type clientEntry struct {
	UserID   model.ActorID `json:"userId"`
	SocketID model.ConnID  `json:"socketId"`
}

func (h *Handler) clients(w http.ResponseWriter, _ *http.Request) {
	snap := h.dir.Snapshot()
	out := struct {
		Total   int           `json:"totalClients"`
		Clients []clientEntry `json:"clients"`
	}{Total: len(snap), Clients: make([]clientEntry, 0, len(snap))}
	for _, b := range snap {
		out.Clients = append(out.Clients, clientEntry{UserID: b.Actor, SocketID: b.Conn})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id := model.RequestID(r.PathValue("id"))
	if !h.dispatcher.Cancel(id) {
		writeStatus(w, http.StatusNotFound, "error", "No pending dispatch for this id")
		return
	}
	h.log.Infof("dispatch %s cancelled over http", id)
	writeStatus(w, http.StatusOK, "success", "Dispatch cancelled")
}

type statusBody struct {
	Status  string         `json:"status"`
	Message string         `json:"message,omitempty"`
	Outcome *model.Outcome `json:"outcome,omitempty"`
}

func writeStatus(w http.ResponseWriter, code int, status, msg string) {
	writeJSON(w, code, statusBody{Status: status, Message: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
