package location

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/courier-dispatch/internal/models"
)

// RedisStore implements Store on Redis: a GEO set for radius queries, a hash
// per courier for the latest report, and a capped list for history.
type RedisStore struct {
	client     *redis.Client
	geoKey     string
	staleAfter time.Duration
	now        func() time.Time
}

func NewRedisStore(client *redis.Client, geoKey string, staleAfter time.Duration) *RedisStore {
	return &RedisStore{client: client, geoKey: geoKey, staleAfter: staleAfter, now: time.Now}
}

func (s *RedisStore) RecordReport(ctx context.Context, r models.LocationReport) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = s.now()
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	pipe := s.client.Pipeline()
	pipe.GeoAdd(ctx, s.geoKey, &redis.GeoLocation{
		Name:      r.CourierID,
		Longitude: r.Point.Lng,
		Latitude:  r.Point.Lat,
	})
	pipe.HSet(ctx, latestKey(r.CourierID), map[string]interface{}{
		"lat":        fmt.Sprintf("%f", r.Point.Lat),
		"lng":        fmt.Sprintf("%f", r.Point.Lng),
		"accuracy_m": fmt.Sprintf("%f", r.Point.AccuracyM),
		"heading":    fmt.Sprintf("%f", r.Point.Heading),
		"speed_kmh":  fmt.Sprintf("%f", r.Point.SpeedKmh),
		"status":     string(r.Status),
		"ts":         r.Timestamp.UTC().Format(time.RFC3339Nano),
	})
	pipe.LPush(ctx, historyKey(r.CourierID), raw)
	pipe.LTrim(ctx, historyKey(r.CourierID), 0, maxHistoryPerCourier-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) LatestReport(ctx context.Context, courierID string) (models.LocationReport, bool, error) {
	m, err := s.client.HGetAll(ctx, latestKey(courierID)).Result()
	if err != nil {
		return models.LocationReport{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(m) == 0 {
		return models.LocationReport{}, false, nil
	}
	r := models.LocationReport{CourierID: courierID}
	r.Point.Lat = parseFloat(m["lat"])
	r.Point.Lng = parseFloat(m["lng"])
	r.Point.AccuracyM = parseFloat(m["accuracy_m"])
	r.Point.Heading = parseFloat(m["heading"])
	r.Point.SpeedKmh = parseFloat(m["speed_kmh"])
	r.Status = models.CourierStatus(m["status"])
	if ts, err := time.Parse(time.RFC3339Nano, m["ts"]); err == nil {
		r.Timestamp = ts
	}
	return r, true, nil
}

func (s *RedisStore) LatestFresh(ctx context.Context, courierID string) (models.LocationReport, bool, error) {
	r, ok, err := s.LatestReport(ctx, courierID)
	if err != nil || !ok {
		return models.LocationReport{}, false, err
	}
	if s.now().Sub(r.Timestamp) > s.staleAfter {
		return models.LocationReport{}, false, nil
	}
	return r, true, nil
}

func (s *RedisStore) History(ctx context.Context, courierID string, limit int) ([]models.LocationReport, error) {
	if limit <= 0 || limit > maxHistoryPerCourier {
		limit = maxHistoryPerCourier
	}
	raws, err := s.client.LRange(ctx, historyKey(courierID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	out := make([]models.LocationReport, 0, len(raws))
	for _, raw := range raws {
		var r models.LocationReport
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func latestKey(id string) string  { return "courier:latest:" + id }
func historyKey(id string) string { return "courier:reports:" + id }
