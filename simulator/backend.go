package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/kilianp07/shiprelay/core/model"
)

// MockBackend serves the backend endpoints the relay calls, populated from
// the simulated fleet. It lets the relay run end to end without the real
// platform.
type MockBackend struct {
	mu            sync.Mutex
	tokens        map[string]model.ActorID
	drivers       []model.ActorID
	companies     []model.ActorID
	assigned      map[string]bool
	notifications int
	outcomes      []model.Outcome
}

// NewMockBackend indexes actors by token and kind.
func NewMockBackend(actors []*SimulatedActor) *MockBackend {
	b := &MockBackend{tokens: make(map[string]model.ActorID), assigned: make(map[string]bool)}
	for _, a := range actors {
		b.tokens[a.Token] = a.ID
		if a.Kind == model.KindCompany {
			b.companies = append(b.companies, a.ID)
		} else {
			b.drivers = append(b.drivers, a.ID)
		}
	}
	return b
}

// Handler returns the HTTP routes.
func (b *MockBackend) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /user", b.handleUser)
	mux.HandleFunc("GET /nearest-entities", b.handleNearest)
	mux.HandleFunc("GET /shipment/{id}/assigned", b.handleAssigned)
	mux.HandleFunc("POST /shipment/send-socket-notifications", b.handleNotifications)
	mux.HandleFunc("POST /dispatch/outcomes", b.handleOutcome)
	return mux
}

// Notifications returns how many notification batches were received.
func (b *MockBackend) Notifications() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.notifications
}

// Outcomes returns the dispatch outcomes reported so far.
func (b *MockBackend) Outcomes() []model.Outcome {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.Outcome(nil), b.outcomes...)
}

func (b *MockBackend) handleUser(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	b.mu.Lock()
	id, ok := b.tokens[token]
	b.mu.Unlock()
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, map[string]model.ActorID{"id": id})
}

type entity struct {
	UserID model.ActorID `json:"user_id"`
}

func (b *MockBackend) handleNearest(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("latitude") == "" || r.URL.Query().Get("longitude") == "" {
		http.Error(w, "missing coordinates", http.StatusBadRequest)
		return
	}
	b.mu.Lock()
	resp := struct {
		Drivers   []entity `json:"nearestDriver"`
		Companies []entity `json:"nearestCompany"`
	}{Drivers: entities(b.drivers), Companies: entities(b.companies)}
	b.mu.Unlock()
	writeJSON(w, resp)
}

func (b *MockBackend) handleAssigned(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	assigned := b.assigned[r.PathValue("id")]
	b.mu.Unlock()
	writeJSON(w, map[string]bool{"hasAssigned": assigned})
}

func (b *MockBackend) handleNotifications(w http.ResponseWriter, r *http.Request) {
	var body json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b.mu.Lock()
	b.notifications++
	b.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (b *MockBackend) handleOutcome(w http.ResponseWriter, r *http.Request) {
	var o model.Outcome
	if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b.mu.Lock()
	b.outcomes = append(b.outcomes, o)
	if o.Status == model.OutcomeAccepted {
		b.assigned[string(o.RequestID)] = true
	}
	b.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func entities(ids []model.ActorID) []entity {
	out := make([]entity, len(ids))
	for i, id := range ids {
		out[i] = entity{UserID: id}
	}
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
