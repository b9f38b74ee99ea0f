package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/courier-dispatch/internal/models"
)

// HTTPSource fetches order contexts from the order service's REST API.
type HTTPSource struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPSource(endpoint string) *HTTPSource {
	return &HTTPSource{Endpoint: endpoint, Client: &http.Client{Timeout: 2 * time.Second}}
}

func (s *HTTPSource) GetOrderContext(ctx context.Context, orderID string) (models.OrderContext, bool, error) {
	url := fmt.Sprintf("%s/orders/%s/context", s.Endpoint, orderID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return models.OrderContext{}, false, err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return models.OrderContext{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return models.OrderContext{}, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return models.OrderContext{}, false, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	var o models.OrderContext
	if err := json.NewDecoder(resp.Body).Decode(&o); err != nil {
		return models.OrderContext{}, false, err
	}
	if o.OrderID == "" {
		o.OrderID = orderID
	}
	return o, true, nil
}
