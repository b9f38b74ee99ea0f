package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/example/courier-dispatch/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) SaveDecision(ctx context.Context, d models.DispatchDecision) error {
	var (
		bidID, courierID sql.NullString
		amount           sql.NullFloat64
		etaMin           sql.NullInt64
	)
	if d.SelectedBid != nil {
		bidID = sql.NullString{String: d.SelectedBid.ID, Valid: true}
		courierID = sql.NullString{String: d.SelectedBid.CourierID, Valid: true}
		amount = sql.NullFloat64{Float64: d.SelectedBid.Amount, Valid: true}
		etaMin = sql.NullInt64{Int64: int64(d.SelectedBid.ProposedEtaMin), Valid: true}
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO dispatch_decisions(order_id, bid_id, courier_id, amount, eta_min, rationale, fallback_required, decided_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (order_id) DO NOTHING`,
		d.OrderID, bidID, courierID, amount, etaMin, d.Rationale, d.FallbackRequired, d.DecidedAt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (p *PostgresStore) GetDecision(ctx context.Context, orderID string) (models.DispatchDecision, bool, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT order_id, bid_id, courier_id, amount, eta_min, rationale, fallback_required, decided_at
		FROM dispatch_decisions WHERE order_id = $1`, orderID)
	var (
		d                models.DispatchDecision
		bidID, courierID sql.NullString
		amount           sql.NullFloat64
		etaMin           sql.NullInt64
	)
	err := row.Scan(&d.OrderID, &bidID, &courierID, &amount, &etaMin, &d.Rationale, &d.FallbackRequired, &d.DecidedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DispatchDecision{}, false, nil
	}
	if err != nil {
		return models.DispatchDecision{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if bidID.Valid {
		d.SelectedBid = &models.Bid{
			ID:             bidID.String,
			OrderID:        d.OrderID,
			CourierID:      courierID.String,
			Amount:         amount.Float64,
			ProposedEtaMin: int(etaMin.Int64),
			Status:         models.BidAccepted,
		}
	}
	return d, true, nil
}
