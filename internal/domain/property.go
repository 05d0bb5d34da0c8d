package domain

import (
	"errors"
	"math"
)

// Row validation errors. They never leave the producer; they only decide
// whether a row is counted as failed.
var (
	ErrMissingField = errors.New("missing required string fields")
	ErrInvalidPrice = errors.New("invalid price")
	ErrInvalidCoord = errors.New("invalid coords")
)

// PropertyRow is one validated record from an upload.
type PropertyRow struct {
	Address   string  `json:"address"`
	Sector    string  `json:"sector"`
	Type      string  `json:"type"`
	Price     float64 `json:"price"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate checks the four scalar fields and the coordinates.
func (r PropertyRow) Validate() error {
	if r.Address == "" || r.Sector == "" || r.Type == "" {
		return ErrMissingField
	}
	if !isFinite(r.Price) || r.Price <= 0 {
		return ErrInvalidPrice
	}
	if !isFinite(r.Latitude) || !isFinite(r.Longitude) {
		return ErrInvalidCoord
	}
	return nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// BatchMessage is the unit of work carried by the broker.
type BatchMessage struct {
	JobID    string        `json:"jobId"`
	TenantID string        `json:"tenantId"`
	Seq      int           `json:"seq"`
	Rows     []PropertyRow `json:"rows"`
}
