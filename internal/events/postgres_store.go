package events

import (
	"context"
	"database/sql"
)

// PostgresStore reads event reference data from PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed event store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the event tables for dev bootstrapping; production uses the
// goose migrations.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS events (
			id           VARCHAR(36) PRIMARY KEY,
			organizer_id VARCHAR(64) NOT NULL,
			name         VARCHAR(255) NOT NULL,
			venue        VARCHAR(255),
			starts_at    TIMESTAMPTZ NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS ticket_tiers (
			id         VARCHAR(36) PRIMARY KEY,
			event_id   VARCHAR(36) NOT NULL REFERENCES events(id),
			name       VARCHAR(255) NOT NULL,
			price      BIGINT NOT NULL CHECK (price >= 0),
			capacity   INT NOT NULL CHECK (capacity >= 0),
			refundable BOOLEAN NOT NULL DEFAULT FALSE
		);

		CREATE INDEX IF NOT EXISTS idx_tiers_event ON ticket_tiers(event_id);
	`)
	return err
}

func (p *PostgresStore) GetEvent(ctx context.Context, id string) (*Event, error) {
	var e Event
	var venue sql.NullString
	err := p.db.QueryRowContext(ctx, `
		SELECT id, organizer_id, name, venue, starts_at, created_at
		FROM events WHERE id = $1
	`, id).Scan(&e.ID, &e.OrganizerID, &e.Name, &venue, &e.StartsAt, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Venue = venue.String
	return &e, nil
}

func (p *PostgresStore) GetTier(ctx context.Context, id string) (*Tier, error) {
	var t Tier
	err := p.db.QueryRowContext(ctx, `
		SELECT id, event_id, name, price, capacity, refundable
		FROM ticket_tiers WHERE id = $1
	`, id).Scan(&t.ID, &t.EventID, &t.Name, &t.Price, &t.Capacity, &t.Refundable)
	if err == sql.ErrNoRows {
		return nil, ErrTierNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (p *PostgresStore) TiersForEvent(ctx context.Context, eventID string) ([]*Tier, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, event_id, name, price, capacity, refundable
		FROM ticket_tiers WHERE event_id = $1 ORDER BY price
	`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Tier
	for rows.Next() {
		var t Tier
		if err := rows.Scan(&t.ID, &t.EventID, &t.Name, &t.Price, &t.Capacity, &t.Refundable); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}
