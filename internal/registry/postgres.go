package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/example/courier-dispatch/internal/models"
)

// PostgresRegistry backs the courier registry with Postgres via lib/pq.
type PostgresRegistry struct {
	db *sql.DB
}

func NewPostgresRegistry(dsn string) (*PostgresRegistry, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &PostgresRegistry{db: db}, nil
}

func (p *PostgresRegistry) GetCourier(ctx context.Context, id string) (models.CourierRecord, bool, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, name, vehicle, rating, trust_score, max_capacity, current_load,
		       battery_pct, range_km, status, active, online
		FROM couriers WHERE id = $1`, id)
	c, err := scanCourier(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CourierRecord{}, false, nil
	}
	if err != nil {
		return models.CourierRecord{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return c, true, nil
}

func (p *PostgresRegistry) ListActive(ctx context.Context) ([]models.CourierRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, vehicle, rating, trust_score, max_capacity, current_load,
		       battery_pct, range_km, status, active, online
		FROM couriers WHERE active = true`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()
	var out []models.CourierRecord
	for rows.Next() {
		c, err := scanCourier(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return out, nil
}

func (p *PostgresRegistry) UpdateLoad(ctx context.Context, id string, delta int) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE couriers SET current_load = GREATEST(current_load + $1, 0) WHERE id = $2`, delta, id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return checkAffected(res, id)
}

func (p *PostgresRegistry) UpdateStatus(ctx context.Context, id string, status models.CourierStatus) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE couriers SET status = $1, online = $2 WHERE id = $3`,
		string(status), status != models.StatusOffline, id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return checkAffected(res, id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCourier(row rowScanner) (models.CourierRecord, error) {
	var c models.CourierRecord
	var battery, rangeKm sql.NullFloat64
	var status string
	err := row.Scan(&c.ID, &c.Name, &c.Vehicle, &c.Rating, &c.TrustScore,
		&c.MaxCapacity, &c.CurrentLoad, &battery, &rangeKm, &status, &c.Active, &c.Online)
	if err != nil {
		return models.CourierRecord{}, err
	}
	if battery.Valid {
		v := battery.Float64
		c.BatteryPct = &v
	}
	if rangeKm.Valid {
		v := rangeKm.Float64
		c.RangeKm = &v
	}
	c.Status = models.CourierStatus(status)
	return c, nil
}

func checkAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if n == 0 {
		return fmt.Errorf("courier %s: %w", id, ErrCourierNotFound)
	}
	return nil
}
