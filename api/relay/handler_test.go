package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/shiprelay/core/dispatch"
	"github.com/kilianp07/shiprelay/core/model"
	"github.com/kilianp07/shiprelay/core/registry"
	"github.com/kilianp07/shiprelay/core/transport"
	"github.com/kilianp07/shiprelay/infra/upstream"
)

type fakeDispatcher struct {
	mu        sync.Mutex
	requests  []model.DispatchRequest
	kinds     []model.StrategyKind
	pending   map[model.RequestID]bool
	cancelled []model.RequestID
	done      chan struct{}
	// status overrides the outcome of dispatches that have candidates.
	status model.OutcomeStatus
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{pending: map[model.RequestID]bool{}, done: make(chan struct{}, 8)}
}

func (f *fakeDispatcher) Dispatch(_ context.Context, req model.DispatchRequest, kind model.StrategyKind) (model.Outcome, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.kinds = append(f.kinds, kind)
	f.mu.Unlock()
	defer func() { f.done <- struct{}{} }()
	if len(req.Candidates) == 0 {
		return model.Outcome{RequestID: req.ID, Status: model.OutcomeExhausted}, nil
	}
	f.mu.Lock()
	st := f.status
	f.mu.Unlock()
	if st != 0 {
		return model.Outcome{RequestID: req.ID, Status: st}, nil
	}
	return model.Outcome{RequestID: req.ID, Status: model.OutcomeAccepted, Winner: req.Candidates[0].Actor}, nil
}

func (f *fakeDispatcher) Cancel(id model.RequestID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.pending[id] {
		return false
	}
	delete(f.pending, id)
	f.cancelled = append(f.cancelled, id)
	return true
}

func (f *fakeDispatcher) Pending(id model.RequestID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending[id]
}

func (f *fakeDispatcher) last() (model.DispatchRequest, model.StrategyKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1], f.kinds[len(f.kinds)-1]
}

type fakeBackend struct {
	mu            sync.Mutex
	assigned      bool
	nearest       upstream.Nearest
	err           error
	notifications []upstream.Notification
	reported      []model.Outcome
	authz         []string
}

func (b *fakeBackend) IsAssigned(_ context.Context, _ string, authz string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.authz = append(b.authz, authz)
	return b.assigned, b.err
}

func (b *fakeBackend) NearestEntities(_ context.Context, _, _ string, authz string) (upstream.Nearest, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.authz = append(b.authz, authz)
	return b.nearest, b.err
}

func (b *fakeBackend) SendNotifications(_ context.Context, n upstream.Notification, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notifications = append(b.notifications, n)
	return nil
}

func (b *fakeBackend) ReportOutcome(_ context.Context, o model.Outcome, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reported = append(b.reported, o)
	return nil
}

func (b *fakeBackend) reports() []model.Outcome {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.Outcome(nil), b.reported...)
}

type sent struct {
	conn model.ConnID
	msg  model.Message
}

type fixture struct {
	d       *fakeDispatcher
	b       *fakeBackend
	reg     *registry.ActorRegistry
	mu      sync.Mutex
	sent    []sent
	handler *Handler
	mux     *http.ServeMux
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{d: newFakeDispatcher(), b: &fakeBackend{}, reg: registry.New()}
	sender := transport.SenderFunc(func(_ context.Context, conn model.ConnID, msg model.Message) error {
		f.mu.Lock()
		f.sent = append(f.sent, sent{conn, msg})
		f.mu.Unlock()
		return nil
	})
	h, err := NewHandler(f.d, f.b, f.reg, sender, opts, nil)
	require.NoError(t, err)
	t.Cleanup(h.Close)
	f.handler = h
	f.mux = http.NewServeMux()
	h.Register(f.mux)
	return f
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer caller")
	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)
	return rr
}

func decodeStatus(t *testing.T, rr *httptest.ResponseRecorder) statusBody {
	t.Helper()
	var b statusBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &b))
	return b
}

const createdBody = `{"event":"shipment_created","data":{"id":7,"origin_lat":"48.85","origin_long":2.35,"weight":12}}`

func TestNewHandlerRequiresDependencies(t *testing.T) {
	_, err := NewHandler(nil, &fakeBackend{}, registry.New(), transport.SenderFunc(nil), Options{}, nil)
	assert.Error(t, err)
}

func TestEmitRejectsBadInput(t *testing.T) {
	f := newFixture(t, Options{})
	cases := []struct {
		name string
		body string
		msg  string
	}{
		{"not json", `{`, "Invalid JSON body"},
		{"missing event", `{"data":{}}`, ""},
		{"unsupported", `{"event":"typing","data":{}}`, "Unsupported event type"},
		{"missing id", `{"event":"shipment_created","data":{"origin_lat":1,"origin_long":2}}`, ""},
		{"bad latitude", `{"event":"shipment_created","data":{"id":1,"origin_lat":"north","origin_long":2}}`, ""},
		{"bid without owner", `{"event":"bid_placed","data":{"amount":3}}`, ""},
	}
	for _, tc := range cases {
		rr := f.do(http.MethodPost, "/emit", tc.body)
		assert.Equal(t, http.StatusBadRequest, rr.Code, tc.name)
		if tc.msg != "" {
			assert.Equal(t, tc.msg, decodeStatus(t, rr).Message, tc.name)
		}
	}
}

func TestShipmentCreatedAlreadyAssigned(t *testing.T) {
	f := newFixture(t, Options{})
	f.b.assigned = true
	rr := f.do(http.MethodPost, "/emit", createdBody)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, f.d.requests)
	assert.Equal(t, []string{"Bearer caller"}, f.b.authz)
}

func TestShipmentCreatedDispatchesOnlineCandidates(t *testing.T) {
	f := newFixture(t, Options{Strategy: model.StrategyBroadcast})
	f.reg.Register("1", "c1")
	f.reg.Register("9", "c9")
	f.b.nearest = upstream.Nearest{
		Drivers:   []upstream.Entity{{UserID: "2"}, {UserID: "1"}},
		Companies: []upstream.Entity{{UserID: "9"}},
	}

	rr := f.do(http.MethodPost, "/emit", createdBody)
	require.Equal(t, http.StatusAccepted, rr.Code)
	select {
	case <-f.d.done:
	case <-time.After(time.Second):
		t.Fatal("dispatch not started")
	}

	req, kind := f.d.last()
	assert.Equal(t, model.RequestID("7"), req.ID)
	assert.Equal(t, model.StrategyBroadcast, kind)
	assert.Equal(t, []model.Candidate{
		{Actor: "1", Rank: 0, Kind: model.KindDriver},
		{Actor: "9", Rank: 1, Kind: model.KindCompany},
	}, req.Candidates)
	assert.JSONEq(t, `{"id":7,"origin_lat":"48.85","origin_long":2.35,"weight":12}`, string(req.Payload))

	assert.Eventually(t, func() bool { return len(f.b.reports()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, model.ActorID("1"), f.b.reports()[0].Winner)
}

func TestShipmentCreatedWaitsForOutcome(t *testing.T) {
	f := newFixture(t, Options{WaitForOutcome: true})
	f.reg.Register("1", "c1")
	f.b.nearest = upstream.Nearest{Drivers: []upstream.Entity{{UserID: "1"}}}

	rr := f.do(http.MethodPost, "/emit?strategy=race", createdBody)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeStatus(t, rr)
	require.NotNil(t, body.Outcome)
	assert.Equal(t, model.OutcomeAccepted, body.Outcome.Status)
	_, kind := f.d.last()
	assert.Equal(t, model.StrategyBroadcast, kind)
	assert.Len(t, f.b.reports(), 1)
}

func TestCancelledOutcomeNotReported(t *testing.T) {
	f := newFixture(t, Options{WaitForOutcome: true})
	f.reg.Register("1", "c1")
	f.b.nearest = upstream.Nearest{Drivers: []upstream.Entity{{UserID: "1"}}}
	f.d.status = model.OutcomeCancelled

	rr := f.do(http.MethodPost, "/emit", createdBody)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeStatus(t, rr)
	require.NotNil(t, body.Outcome)
	assert.Equal(t, model.OutcomeCancelled, body.Outcome.Status)
	assert.Empty(t, f.b.reports())

	f.d.status = model.OutcomeExhausted
	rr = f.do(http.MethodPost, "/emit", createdBody)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, f.b.reports(), 1)
	assert.Equal(t, model.OutcomeExhausted, f.b.reports()[0].Status)
}

func TestShipmentCreatedNobodyOnline(t *testing.T) {
	f := newFixture(t, Options{})
	f.b.nearest = upstream.Nearest{Drivers: []upstream.Entity{{UserID: "1"}}}
	rr := f.do(http.MethodPost, "/emit", createdBody)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "No available drivers or companies", decodeStatus(t, rr).Message)
	assert.Empty(t, f.d.requests)
}

func TestShipmentCreatedConflictAndUpstreamError(t *testing.T) {
	f := newFixture(t, Options{})
	f.reg.Register("1", "c1")
	f.b.nearest = upstream.Nearest{Drivers: []upstream.Entity{{UserID: "1"}}}
	f.d.pending["7"] = true
	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/emit", createdBody).Code)

	f.b.err = errors.New("backend down")
	rr := f.do(http.MethodPost, "/emit", createdBody)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "Internal Server Error", decodeStatus(t, rr).Message)
}

func TestUnknownStrategyParameter(t *testing.T) {
	f := newFixture(t, Options{})
	f.reg.Register("1", "c1")
	f.b.nearest = upstream.Nearest{Drivers: []upstream.Entity{{UserID: "1"}}}
	rr := f.do(http.MethodPost, "/emit?strategy=lottery", createdBody)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPriceUpdatedRestartsDispatchAndNotifies(t *testing.T) {
	f := newFixture(t, Options{WaitForOutcome: true})
	f.reg.Register("1", "c1")
	f.b.nearest = upstream.Nearest{
		Drivers:   []upstream.Entity{{UserID: "1"}, {UserID: "2"}},
		Companies: []upstream.Entity{{UserID: "9"}},
	}
	f.d.pending["7"] = true

	body := `{"event":"shipment_price_updated","data":{"id":7,"shipment_id":70,"origin_lat":1,"origin_long":2}}`
	rr := f.do(http.MethodPost, "/emit", body)
	require.Equal(t, http.StatusOK, rr.Code)

	assert.Equal(t, []model.RequestID{"7"}, f.d.cancelled)
	require.Len(t, f.b.notifications, 1)
	assert.Equal(t, upstream.Notification{
		ShipmentID: "70",
		Drivers:    []model.ActorID{"1", "2"},
		Companies:  []model.ActorID{"9"},
	}, f.b.notifications[0])
	req, _ := f.d.last()
	assert.Equal(t, []model.Candidate{{Actor: "1", Rank: 0, Kind: model.KindDriver}}, req.Candidates)
}

func TestPriceUpdatedUpstreamError(t *testing.T) {
	f := newFixture(t, Options{})
	f.b.err = errors.New("boom")
	body := `{"event":"shipment_price_updated","data":{"id":7,"origin_lat":1,"origin_long":2}}`
	rr := f.do(http.MethodPost, "/emit", body)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "Failed to process price update event", decodeStatus(t, rr).Message)
}

func TestBidPlacedRelaysToOwner(t *testing.T) {
	f := newFixture(t, Options{})
	f.reg.Register("5", "c5")

	rr := f.do(http.MethodPost, "/emit", `{"event":"bid_placed","data":{"user_id":5,"amount":120}}`)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Bid placed successfully", decodeStatus(t, rr).Message)
	require.Len(t, f.sent, 1)
	assert.Equal(t, model.ConnID("c5"), f.sent[0].conn)
	bid, ok := f.sent[0].msg.(model.BidPlaced)
	require.True(t, ok)
	assert.JSONEq(t, `{"user_id":5,"amount":120}`, string(bid.Payload))

	// offline owner still succeeds
	rr = f.do(http.MethodPost, "/emit", `{"event":"bid_placed","data":{"user_id":6}}`)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, f.sent, 1)
}

func TestDebugClients(t *testing.T) {
	f := newFixture(t, Options{})
	f.reg.Register("1", "c1")
	f.reg.Register("2", "c2")

	rr := f.do(http.MethodGet, "/debug/clients", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var out struct {
		Total   int `json:"totalClients"`
		Clients []struct {
			UserID   string `json:"userId"`
			SocketID string `json:"socketId"`
		} `json:"clients"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	assert.Equal(t, 2, out.Total)
	assert.Len(t, out.Clients, 2)
}

func TestCancelEndpoint(t *testing.T) {
	f := newFixture(t, Options{})
	f.d.pending["42"] = true
	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/api/dispatch/42/cancel", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/api/dispatch/42/cancel", "").Code)
}

func TestPing(t *testing.T) {
	f := newFixture(t, Options{})
	rr := f.do(http.MethodGet, "/ping", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

var _ Dispatcher = (*dispatch.Coordinator)(nil)
