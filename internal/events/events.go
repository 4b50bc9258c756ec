// Package events holds the read model for events and ticket tiers.
//
// The settlement engine does not own event lifecycle; records here are
// reference data for pricing, capacity, and refund policy. Once a tier has
// been referenced by a payment its price and refundable flag are treated as
// immutable.
package events

import (
	"context"
	"errors"
	"time"
)

var (
	ErrEventNotFound = errors.New("events: event not found")
	ErrTierNotFound  = errors.New("events: tier not found")
)

// Event is a published event accepting ticket sales.
type Event struct {
	ID          string    `json:"id"`
	OrganizerID string    `json:"organizerId"`
	Name        string    `json:"name"`
	Venue       string    `json:"venue,omitempty"`
	StartsAt    time.Time `json:"startsAt"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Tier is one price level of an event.
type Tier struct {
	ID         string `json:"id"`
	EventID    string `json:"eventId"`
	Name       string `json:"name"`
	Price      int64  `json:"price"` // minor units
	Capacity   int    `json:"capacity"`
	Refundable bool   `json:"refundable"`
}

// Store provides read access to event reference data.
type Store interface {
	GetEvent(ctx context.Context, id string) (*Event, error)
	GetTier(ctx context.Context, id string) (*Tier, error)

	// TiersForEvent lists an event's tiers.
	TiersForEvent(ctx context.Context, eventID string) ([]*Tier, error)
}
