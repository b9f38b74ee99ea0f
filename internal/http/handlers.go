package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/courier-dispatch/internal/bidding"
	"github.com/example/courier-dispatch/internal/lifecycle"
	"github.com/example/courier-dispatch/internal/location"
	"github.com/example/courier-dispatch/internal/models"
	"github.com/example/courier-dispatch/internal/observability"
	"github.com/example/courier-dispatch/internal/registry"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type locationPayload struct {
	CourierID string    `json:"courier_id"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	AccuracyM float64   `json:"accuracy_m"`
	Heading   float64   `json:"heading"`
	SpeedKmh  float64   `json:"speed_kmh"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// handleLocationReport ingests one device position sample. The report is
// published to Kafka for the consumer pipeline and applied to the live store
// directly so a single-process deployment works without the broker.
func (s *Server) handleLocationReport(w http.ResponseWriter, r *http.Request) {
	var p locationPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if p.CourierID == "" {
		writeError(w, http.StatusBadRequest, "courier_id is required")
		return
	}
	point := models.GeoPoint{Lat: p.Lat, Lng: p.Lng, AccuracyM: p.AccuracyM, Heading: p.Heading, SpeedKmh: p.SpeedKmh}
	if !point.Valid() {
		writeError(w, http.StatusBadRequest, "coordinates out of range")
		return
	}
	status := models.StatusAvailable
	if p.Status != "" {
		parsed, err := models.ParseCourierStatus(p.Status)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		status = parsed
	}
	report := models.LocationReport{CourierID: p.CourierID, Point: point, Status: status, Timestamp: p.Timestamp}
	if report.Timestamp.IsZero() {
		report.Timestamp = time.Now()
	}

	if s.Kafka != nil {
		if err := s.Kafka.PublishReport(report); err != nil {
			s.logger.Warn("kafka publish failed", "courier_id", report.CourierID, "error", err)
		}
	}
	if err := s.Locations.RecordReport(r.Context(), report); err != nil {
		s.logger.Error("record report failed", "courier_id", report.CourierID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "location store unavailable")
		return
	}

	if prev, ok, err := s.Registry.GetCourier(r.Context(), report.CourierID); err == nil && ok {
		if !prev.Online && status != models.StatusOffline {
			observability.CouriersOnline.Inc()
		} else if prev.Online && status == models.StatusOffline {
			observability.CouriersOnline.Dec()
		}
		if prev.Status != status {
			if err := s.Registry.UpdateStatus(r.Context(), report.CourierID, status); err != nil {
				s.logger.Warn("status update failed", "courier_id", report.CourierID, "error", err)
			}
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReportHistory(w http.ResponseWriter, r *http.Request) {
	courierID := mux.Vars(r)["courier_id"]
	limit := 50
	history, err := s.Locations.History(r.Context(), courierID, limit)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "location store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"courier_id": courierID, "reports": history})
}

type searchPayload struct {
	Center     models.GeoPoint     `json:"center"`
	Filter     models.SearchFilter `json:"filter"`
	MaxResults int                 `json:"max_results"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var p searchPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !p.Center.Valid() {
		writeError(w, http.StatusBadRequest, "search center out of range")
		return
	}
	if p.MaxResults <= 0 {
		p.MaxResults = s.cfg.SearchMaxResults
	}
	res, err := s.Search.FindNearestCouriers(r.Context(), p.Center, p.Filter, p.MaxResults)
	if err != nil {
		if errors.Is(err, registry.ErrUnavailable) || errors.Is(err, location.ErrUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "backing store unavailable")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type openRoundPayload struct {
	WindowSeconds int `json:"window_seconds"`
	MinBids       int `json:"min_bids"`
}

func (s *Server) handleOpenRound(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["order_id"]
	var p openRoundPayload
	if r.Body != nil {
		// Body is optional; defaults come from config.
		_ = json.NewDecoder(r.Body).Decode(&p)
	}
	handle, err := s.Engine.OpenRound(r.Context(), orderID, time.Duration(p.WindowSeconds)*time.Second, p.MinBids)
	switch {
	case errors.Is(err, bidding.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order not found")
		return
	case errors.Is(err, bidding.ErrRoundExists):
		writeError(w, http.StatusConflict, "round already open for order")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, handle)
}

func (s *Server) handleSubmitBid(w http.ResponseWriter, r *http.Request) {
	var bid models.Bid
	if err := json.NewDecoder(r.Body).Decode(&bid); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	accepted, err := s.Engine.SubmitBid(r.Context(), bid)
	if err != nil {
		var rej *bidding.RejectionError
		switch {
		case errors.As(err, &rej):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"status": "rejected", "reason": rej.Reason, "bid": accepted})
		case errors.Is(err, bidding.ErrUnknownRound):
			writeError(w, http.StatusNotFound, "no bidding round for order")
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted", "bid": accepted})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["order_id"]
	decision, err := s.Engine.Resolve(r.Context(), orderID)
	switch {
	case errors.Is(err, bidding.ErrRoundCancelled):
		writeError(w, http.StatusConflict, "round cancelled")
		return
	case errors.Is(err, bidding.ErrUnknownRound):
		writeError(w, http.StatusNotFound, "no bidding round for order")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

type transitionPayload struct {
	Event   string `json:"event"`
	ActorID string `json:"actor_id"`
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["order_id"]
	var p transitionPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if p.Event == "" || p.ActorID == "" {
		writeError(w, http.StatusBadRequest, "event and actor_id are required")
		return
	}
	ev := lifecycle.Event(p.Event)
	state, err := s.Machine.Transition(r.Context(), orderID, ev, p.ActorID)
	if err != nil {
		var invalid *lifecycle.InvalidTransitionError
		switch {
		case errors.As(err, &invalid):
			writeError(w, http.StatusConflict, invalid.Error())
		case errors.Is(err, lifecycle.ErrUnknownOrder):
			writeError(w, http.StatusNotFound, "unknown order")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	// A requester cancel also tears down any still-open bidding round.
	if ev == lifecycle.EventCancel {
		if err := s.Engine.CancelRound(orderID); err != nil && !errors.Is(err, bidding.ErrUnknownRound) {
			s.logger.Warn("round cancel after order cancel failed", "order_id", orderID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"order_id": orderID, "state": string(state)})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWS attaches a courier device session used for assignment pushes. The
// read loop only reaps dead connections; couriers never send over this socket.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	courierID := mux.Vars(r)["courier_id"]
	if courierID == "" {
		writeError(w, http.StatusBadRequest, "courier_id is required")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "courier_id", courierID, "error", err)
		return
	}
	s.WSReg.Add(courierID, conn)
	s.logger.Info("courier session opened", "courier_id", courierID)
	go func() {
		defer func() {
			s.WSReg.Remove(courierID)
			_ = conn.Close()
			s.logger.Info("courier session closed", "courier_id", courierID)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
