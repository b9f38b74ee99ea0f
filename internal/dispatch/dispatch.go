// Package dispatch delivers assignment offers to courier devices.
package dispatch

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/example/courier-dispatch/internal/models"
)

// Dispatcher pushes an assignment offer to one courier. Delivery is
// best-effort; losing the push never un-decides the round.
type Dispatcher interface {
	Offer(courierID string, offer models.AssignmentOffer) error
}

// PushDispatcher tries the courier's live websocket session first and falls
// back to posting the offer to a provider HTTP endpoint.
type PushDispatcher struct {
	Endpoint string
	Client   *http.Client
	WS       *WSRegistry
}

func NewPushDispatcher(endpoint string, ws *WSRegistry) *PushDispatcher {
	return &PushDispatcher{Endpoint: endpoint, Client: &http.Client{Timeout: 3 * time.Second}, WS: ws}
}

func (p *PushDispatcher) Offer(courierID string, offer models.AssignmentOffer) error {
	if p.WS != nil {
		if err := p.WS.Offer(courierID, offer); err == nil {
			return nil
		}
	}
	if p.Endpoint == "" {
		return ErrNoSession
	}
	b, _ := json.Marshal(map[string]any{"courier_id": courierID, "offer": offer})
	_, err := p.Client.Post(p.Endpoint, "application/json", bytes.NewReader(b))
	return err
}
