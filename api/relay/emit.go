package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kilianp07/shiprelay/core/dispatch"
	"github.com/kilianp07/shiprelay/core/model"
	"github.com/kilianp07/shiprelay/infra/upstream"
)

const maxEmitBody = 1 << 20

type emitRequest struct {
	Event string          `json:"event" validate:"required"`
	Data  json.RawMessage `json:"data" validate:"required"`
}

// shipmentData is the part of a shipment event the relay reads. The whole
// data object is forwarded to candidates as the request payload.
type shipmentData struct {
	ID         model.RequestID `json:"id" validate:"required"`
	ShipmentID model.RequestID `json:"shipment_id"`
	OriginLat  json.Number     `json:"origin_lat" validate:"required,numeric"`
	OriginLong json.Number     `json:"origin_long" validate:"required,numeric"`
}

type bidData struct {
	UserID model.ActorID `json:"user_id" validate:"required"`
}

func (h *Handler) emit(w http.ResponseWriter, r *http.Request) {
	var req emitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEmitBody)).Decode(&req); err != nil {
		writeStatus(w, http.StatusBadRequest, "error", "Invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeStatus(w, http.StatusBadRequest, "error", err.Error())
		return
	}
	h.log.Debugw("received event", map[string]any{"event": req.Event})

	switch req.Event {
	case EventShipmentCreated:
		h.shipmentCreated(w, r, req.Data)
	case EventShipmentPriceUpdated:
		h.priceUpdated(w, r, req.Data)
	case EventBidPlaced:
		h.bidPlaced(w, r, req.Data)
	default:
		writeStatus(w, http.StatusBadRequest, "error", "Unsupported event type")
	}
}

func (h *Handler) decodeData(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return err
	}
	return h.validate.Struct(v)
}

func (h *Handler) shipmentCreated(w http.ResponseWriter, r *http.Request, raw json.RawMessage) {
	var data shipmentData
	if err := h.decodeData(raw, &data); err != nil {
		writeStatus(w, http.StatusBadRequest, "error", err.Error())
		return
	}
	authz := r.Header.Get("Authorization")
	ctx := r.Context()

	assigned, err := h.backend.IsAssigned(ctx, string(data.ID), authz)
	if err != nil {
		h.log.Errorf("assignment check for %s: %v", data.ID, err)
		writeStatus(w, http.StatusInternalServerError, "error", "Internal Server Error")
		return
	}
	if assigned {
		h.log.Infof("shipment %s already assigned", data.ID)
		writeStatus(w, http.StatusOK, "success", "Shipment already assigned")
		return
	}
	nearest, err := h.backend.NearestEntities(ctx, data.OriginLat.String(), data.OriginLong.String(), authz)
	if err != nil {
		h.log.Errorf("nearest entities for %s: %v", data.ID, err)
		writeStatus(w, http.StatusInternalServerError, "error", "Internal Server Error")
		return
	}
	h.startDispatch(w, r, data.ID, raw, nearest)
}

func (h *Handler) priceUpdated(w http.ResponseWriter, r *http.Request, raw json.RawMessage) {
	var data shipmentData
	if err := h.decodeData(raw, &data); err != nil {
		writeStatus(w, http.StatusBadRequest, "error", err.Error())
		return
	}
	authz := r.Header.Get("Authorization")
	ctx := r.Context()

	if h.dispatcher.Cancel(data.ID) {
		h.log.Infof("price of %s changed, restarting its dispatch", data.ID)
	}
	nearest, err := h.backend.NearestEntities(ctx, data.OriginLat.String(), data.OriginLong.String(), authz)
	if err != nil {
		h.log.Errorf("nearest entities for %s: %v", data.ID, err)
		writeStatus(w, http.StatusInternalServerError, "error", "Failed to process price update event")
		return
	}

	shipmentID := data.ShipmentID
	if shipmentID == "" {
		shipmentID = data.ID
	}
	n := upstream.Notification{ShipmentID: string(shipmentID)}
	for _, e := range nearest.Drivers {
		n.Drivers = append(n.Drivers, e.UserID)
	}
	for _, e := range nearest.Companies {
		n.Companies = append(n.Companies, e.UserID)
	}
	if err := h.backend.SendNotifications(ctx, n, authz); err != nil {
		h.log.Errorf("notifications for %s: %v", shipmentID, err)
		writeStatus(w, http.StatusInternalServerError, "error", "Failed to process price update event")
		return
	}
	h.startDispatch(w, r, data.ID, raw, nearest)
}

func (h *Handler) bidPlaced(w http.ResponseWriter, r *http.Request, raw json.RawMessage) {
	var data bidData
	if err := h.decodeData(raw, &data); err != nil {
		writeStatus(w, http.StatusBadRequest, "error", err.Error())
		return
	}
	conn, ok := h.dir.Lookup(data.UserID)
	if !ok {
		h.log.Infof("no connection for shipment owner %s, bid not relayed", data.UserID)
	} else if err := h.sender.Send(r.Context(), conn, model.BidPlaced{Payload: raw}); err != nil {
		h.log.Warnf("relay bid to %s: %v", data.UserID, err)
	}
	writeStatus(w, http.StatusOK, "success", "Bid placed successfully")
}

// candidates keeps the online entities, drivers first, in backend order.
func (h *Handler) candidates(n upstream.Nearest) []model.Candidate {
	var out []model.Candidate
	add := func(es []upstream.Entity, kind model.ActorKind) {
		for _, e := range es {
			if _, ok := h.dir.Lookup(e.UserID); !ok {
				continue
			}
			out = append(out, model.Candidate{Actor: e.UserID, Rank: len(out), Kind: kind})
		}
	}
	add(n.Drivers, model.KindDriver)
	add(n.Companies, model.KindCompany)
	return out
}

func (h *Handler) strategy(r *http.Request) (model.StrategyKind, error) {
	s := r.URL.Query().Get("strategy")
	if s == "" {
		return h.opts.Strategy, nil
	}
	return model.ParseStrategyKind(s)
}

func (h *Handler) startDispatch(w http.ResponseWriter, r *http.Request, id model.RequestID, payload json.RawMessage, nearest upstream.Nearest) {
	kind, err := h.strategy(r)
	if err != nil {
		writeStatus(w, http.StatusBadRequest, "error", err.Error())
		return
	}
	cands := h.candidates(nearest)
	if len(cands) == 0 {
		h.log.Warnf("no available drivers or companies for %s", id)
		writeStatus(w, http.StatusOK, "success", "No available drivers or companies")
		return
	}
	if h.dispatcher.Pending(id) {
		writeStatus(w, http.StatusConflict, "error", "Dispatch already in progress")
		return
	}
	req := model.DispatchRequest{ID: id, Payload: payload, Candidates: cands}
	authz := r.Header.Get("Authorization")

	if h.opts.WaitForOutcome {
		out, err := h.run(r.Context(), req, kind, authz)
		if errors.Is(err, dispatch.ErrDuplicateRequest) {
			writeStatus(w, http.StatusConflict, "error", "Dispatch already in progress")
			return
		}
		if err != nil {
			writeStatus(w, http.StatusInternalServerError, "error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, statusBody{Status: "success", Outcome: &out})
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if _, err := h.run(h.base, req, kind, authz); err != nil {
			h.log.Warnf("dispatch %s: %v", id, err)
		}
	}()
	writeStatus(w, http.StatusAccepted, "accepted", fmt.Sprintf("Dispatching to %d candidates", len(cands)))
}

// run dispatches and reports the outcome upstream. Duplicates are not
// reported since another dispatch owns the id, and neither are cancelled
// dispatches since a replacement reports for the same id.
func (h *Handler) run(ctx context.Context, req model.DispatchRequest, kind model.StrategyKind, authz string) (model.Outcome, error) {
	out, err := h.dispatcher.Dispatch(ctx, req, kind)
	if err != nil {
		return out, err
	}
	if out.Status == model.OutcomeCancelled {
		h.log.Infof("dispatch %s cancelled, outcome not reported", req.ID)
		return out, nil
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if rerr := h.backend.ReportOutcome(rctx, out, authz); rerr != nil {
		h.log.Warnf("report outcome of %s: %v", req.ID, rerr)
	}
	return out, nil
}
