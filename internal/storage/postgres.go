package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/turbodriver/dispatch-core/internal/dispatch"
	"github.com/turbodriver/dispatch-core/internal/payment"
)

// Postgres is the production backing for dispatch.RideStore and
// payment.Ledger, built on a pgxpool.Pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureSchema applies schema.sql if it has not already been applied.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	return ApplySchema(ctx, pool)
}

// CreateRide implements dispatch.RideStore.
func (p *Postgres) CreateRide(ctx context.Context, r dispatch.Ride) (dispatch.Ride, error) {
	breakdown, _ := json.Marshal(r.Breakdown)
	_, err := p.pool.Exec(ctx, `
INSERT INTO rides (
	id, rider_id, driver_id, status,
	pickup_lat, pickup_long, pickup_address,
	destination_lat, destination_long, destination_address,
	estimated_fare, breakdown, distance_km,
	payment_status, extended_area, requested_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
`, r.ID, r.RiderID, nullString(r.DriverID), r.Status,
		r.Pickup.Latitude, r.Pickup.Longitude, r.Pickup.Address,
		r.Destination.Latitude, r.Destination.Longitude, r.Destination.Address,
		r.EstimatedFare, breakdown, r.DistanceKM,
		r.PaymentStatus, r.ExtendedArea, r.RequestedAt, r.UpdatedAt)
	if err != nil {
		return dispatch.Ride{}, dispatch.NewError(dispatch.KindTransientStore, "create ride failed", err)
	}
	return r, nil
}

// GetRide implements dispatch.RideStore.
func (p *Postgres) GetRide(ctx context.Context, rideID string) (dispatch.Ride, error) {
	row := p.pool.QueryRow(ctx, `
SELECT id, rider_id, driver_id, status,
	pickup_lat, pickup_long, pickup_address,
	destination_lat, destination_long, destination_address,
	estimated_fare, breakdown, final_fare, distance_km,
	requested_at, matched_at, driver_arriving_at, start_at, completed_at, cancelled_at,
	payment_status, transaction_id, cancelled_by, cancel_reason, cancel_fee, extended_area, updated_at
FROM rides WHERE id = $1
`, rideID)
	ride, err := scanRide(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return dispatch.Ride{}, dispatch.ErrRideNotFound
		}
		return dispatch.Ride{}, dispatch.NewError(dispatch.KindTransientStore, "get ride failed", err)
	}
	return ride, nil
}

// UpdateRide implements dispatch.RideStore.
func (p *Postgres) UpdateRide(ctx context.Context, r dispatch.Ride) error {
	breakdown, _ := json.Marshal(r.Breakdown)
	_, err := p.pool.Exec(ctx, `
UPDATE rides SET
	driver_id = $2, status = $3, final_fare = $4,
	matched_at = $5, driver_arriving_at = $6, start_at = $7, completed_at = $8, cancelled_at = $9,
	payment_status = $10, transaction_id = $11, cancelled_by = $12, cancel_reason = $13, cancel_fee = $14,
	breakdown = $15, updated_at = $16
WHERE id = $1
`, r.ID, nullString(r.DriverID), r.Status, r.FinalFare,
		r.MatchedAt, r.DriverArrivingAt, r.StartAt, r.CompletedAt, r.CancelledAt,
		r.PaymentStatus, nullString(r.TransactionID), nullString(r.CancelledBy), nullString(r.CancelReason), r.CancelFee,
		breakdown, r.UpdatedAt)
	if err != nil {
		return dispatch.NewError(dispatch.KindTransientStore, "update ride failed", err)
	}
	return nil
}

// ListRidesByRider implements dispatch.RideStore.
func (p *Postgres) ListRidesByRider(ctx context.Context, riderID string, limit, offset int) ([]dispatch.Ride, error) {
	return p.listRides(ctx, "rider_id", riderID, limit, offset)
}

// ListRidesByDriver implements dispatch.RideStore.
func (p *Postgres) ListRidesByDriver(ctx context.Context, driverID string, limit, offset int) ([]dispatch.Ride, error) {
	return p.listRides(ctx, "driver_id", driverID, limit, offset)
}

func (p *Postgres) listRides(ctx context.Context, column, value string, limit, offset int) ([]dispatch.Ride, error) {
	rows, err := p.pool.Query(ctx, `
SELECT id, rider_id, driver_id, status,
	pickup_lat, pickup_long, pickup_address,
	destination_lat, destination_long, destination_address,
	estimated_fare, breakdown, final_fare, distance_km,
	requested_at, matched_at, driver_arriving_at, start_at, completed_at, cancelled_at,
	payment_status, transaction_id, cancelled_by, cancel_reason, cancel_fee, extended_area, updated_at
FROM rides WHERE `+column+` = $1
ORDER BY requested_at DESC
LIMIT $2 OFFSET $3
`, value, limit, offset)
	if err != nil {
		return nil, dispatch.NewError(dispatch.KindTransientStore, "list rides failed", err)
	}
	defer rows.Close()
	var out []dispatch.Ride
	for rows.Next() {
		ride, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ride)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner) (dispatch.Ride, error) {
	var (
		r                                                              dispatch.Ride
		driverID, transactionID, cancelledBy, cancelReason             *string
		finalFare                                                      *float64
		matchedAt, driverArrivingAt, startAt, completedAt, cancelledAt *time.Time
		breakdown                                                      []byte
	)
	if err := row.Scan(
		&r.ID, &r.RiderID, &driverID, &r.Status,
		&r.Pickup.Latitude, &r.Pickup.Longitude, &r.Pickup.Address,
		&r.Destination.Latitude, &r.Destination.Longitude, &r.Destination.Address,
		&r.EstimatedFare, &breakdown, &finalFare, &r.DistanceKM,
		&r.RequestedAt, &matchedAt, &driverArrivingAt, &startAt, &completedAt, &cancelledAt,
		&r.PaymentStatus, &transactionID, &cancelledBy, &cancelReason, &r.CancelFee, &r.ExtendedArea, &r.UpdatedAt,
	); err != nil {
		return dispatch.Ride{}, err
	}
	if driverID != nil {
		r.DriverID = *driverID
	}
	if transactionID != nil {
		r.TransactionID = *transactionID
	}
	if cancelledBy != nil {
		r.CancelledBy = *cancelledBy
	}
	if cancelReason != nil {
		r.CancelReason = *cancelReason
	}
	r.FinalFare = finalFare
	r.MatchedAt = matchedAt
	r.DriverArrivingAt = driverArrivingAt
	r.StartAt = startAt
	r.CompletedAt = completedAt
	r.CancelledAt = cancelledAt
	if len(breakdown) > 0 {
		_ = json.Unmarshal(breakdown, &r.Breakdown)
	}
	return r, nil
}

// UpsertDriver implements dispatch.RideStore.
func (p *Postgres) UpsertDriver(ctx context.Context, d dispatch.DriverState) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO drivers (id, status, latitude, longitude, accuracy, location_at, sequence, ride_id, suspended, accept_extended_area, accepts_parcel, cancel_count, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status, latitude = EXCLUDED.latitude, longitude = EXCLUDED.longitude,
	accuracy = EXCLUDED.accuracy, location_at = EXCLUDED.location_at, sequence = EXCLUDED.sequence,
	ride_id = EXCLUDED.ride_id, suspended = EXCLUDED.suspended,
	accept_extended_area = EXCLUDED.accept_extended_area, accepts_parcel = EXCLUDED.accepts_parcel,
	cancel_count = EXCLUDED.cancel_count, updated_at = EXCLUDED.updated_at
`, d.ID, d.Status, d.Location.Point.Latitude, d.Location.Point.Longitude, d.Location.Accuracy, d.Location.At, d.Location.Sequence,
		nullString(d.RideID), d.Suspended, d.AcceptExtendedArea, d.AcceptsParcel, d.CancelCount, d.UpdatedAt)
	if err != nil {
		return dispatch.NewError(dispatch.KindTransientStore, "upsert driver failed", err)
	}
	return nil
}

// GetDriver implements dispatch.RideStore.
func (p *Postgres) GetDriver(ctx context.Context, driverID string) (dispatch.DriverState, error) {
	var (
		d        dispatch.DriverState
		rideID   *string
		lat, lon float64
	)
	err := p.pool.QueryRow(ctx, `
SELECT id, status, latitude, longitude, accuracy, location_at, sequence, ride_id, suspended, accept_extended_area, accepts_parcel, cancel_count, updated_at
FROM drivers WHERE id = $1
`, driverID).Scan(&d.ID, &d.Status, &lat, &lon, &d.Location.Accuracy, &d.Location.At, &d.Location.Sequence,
		&rideID, &d.Suspended, &d.AcceptExtendedArea, &d.AcceptsParcel, &d.CancelCount, &d.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return dispatch.DriverState{}, dispatch.ErrDriverNotFound
		}
		return dispatch.DriverState{}, dispatch.NewError(dispatch.KindTransientStore, "get driver failed", err)
	}
	d.Location.DriverID = d.ID
	d.Location.Point = dispatch.Coordinate{Latitude: lat, Longitude: lon}
	if rideID != nil {
		d.RideID = *rideID
	}
	return d, nil
}

// SetDriverRide implements dispatch.RideStore.
func (p *Postgres) SetDriverRide(ctx context.Context, driverID, rideID string) error {
	status := dispatch.DriverAvailable
	if rideID != "" {
		status = dispatch.DriverBusy
	}
	_, err := p.pool.Exec(ctx, `
UPDATE drivers SET ride_id = $2, status = $3, updated_at = $4 WHERE id = $1
`, driverID, nullString(rideID), status, time.Now())
	if err != nil {
		return dispatch.NewError(dispatch.KindTransientStore, "set driver ride failed", err)
	}
	return nil
}

// AppendEvent implements dispatch.RideStore.
func (p *Postgres) AppendEvent(ctx context.Context, e dispatch.RideEvent) error {
	payload, _ := json.Marshal(e.Payload)
	_, err := p.pool.Exec(ctx, `
INSERT INTO ride_events (ride_id, type, payload, actor_id, actor_role, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`, e.RideID, e.Type, payload, nullString(e.ActorID), nullString(e.ActorRole), e.CreatedAt)
	if err != nil {
		return dispatch.NewError(dispatch.KindTransientStore, "append event failed", err)
	}
	return nil
}

// ListEvents implements dispatch.RideStore.
func (p *Postgres) ListEvents(ctx context.Context, rideID string) ([]dispatch.RideEvent, error) {
	rows, err := p.pool.Query(ctx, `
SELECT ride_id, type, payload, actor_id, actor_role, created_at
FROM ride_events WHERE ride_id = $1 ORDER BY created_at ASC
`, rideID)
	if err != nil {
		return nil, dispatch.NewError(dispatch.KindTransientStore, "list events failed", err)
	}
	defer rows.Close()
	var out []dispatch.RideEvent
	for rows.Next() {
		var (
			e                    dispatch.RideEvent
			payload              []byte
			actorID, actorRole   *string
		)
		if err := rows.Scan(&e.RideID, &e.Type, &payload, &actorID, &actorRole, &e.CreatedAt); err != nil {
			return nil, err
		}
		if actorID != nil {
			e.ActorID = *actorID
		}
		if actorRole != nil {
			e.ActorRole = *actorRole
		}
		if len(payload) > 0 {
			_ = json.Unmarshal(payload, &e.Payload)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveTransaction implements payment.Ledger.
func (p *Postgres) SaveTransaction(ctx context.Context, tx payment.Transaction) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO transactions (id, ride_id, rider_id, amount_paise, gateway, reference, status, retry_count, created_at, completed_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status, reference = EXCLUDED.reference, retry_count = EXCLUDED.retry_count, completed_at = EXCLUDED.completed_at
`, tx.ID, tx.RideID, tx.RiderID, tx.AmountPaise, tx.Gateway, nullString(tx.Reference), tx.Status, tx.RetryCount, tx.CreatedAt, tx.CompletedAt)
	if err != nil {
		return dispatch.NewError(dispatch.KindTransientStore, "save transaction failed", err)
	}
	return nil
}

// SavePayout implements payment.Ledger.
func (p *Postgres) SavePayout(ctx context.Context, payout payment.Payout) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO payouts (id, ride_id, driver_id, amount_paise, status, scheduled_for, completed_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status, completed_at = EXCLUDED.completed_at
`, payout.ID, payout.RideID, payout.DriverID, payout.AmountPaise, payout.Status, payout.ScheduledFor, payout.CompletedAt)
	if err != nil {
		return dispatch.NewError(dispatch.KindTransientStore, "save payout failed", err)
	}
	return nil
}

// DuePayouts implements payment.Ledger: every scheduled payout whose
// scheduled_for has passed.
func (p *Postgres) DuePayouts(ctx context.Context, asOf time.Time) ([]payment.Payout, error) {
	rows, err := p.pool.Query(ctx, `
SELECT id, ride_id, driver_id, amount_paise, status, scheduled_for, completed_at
FROM payouts WHERE status = $1 AND scheduled_for <= $2
`, payment.PayoutScheduled, asOf)
	if err != nil {
		return nil, dispatch.NewError(dispatch.KindTransientStore, "due payouts query failed", err)
	}
	defer rows.Close()
	var out []payment.Payout
	for rows.Next() {
		var po payment.Payout
		if err := rows.Scan(&po.ID, &po.RideID, &po.DriverID, &po.AmountPaise, &po.Status, &po.ScheduledFor, &po.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, po)
	}
	return out, rows.Err()
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// DefaultPool builds a pgxpool.Pool from a connection string.
func DefaultPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	cfg.MaxConnLifetime = time.Hour
	return pgxpool.NewWithConfig(ctx, cfg)
}
