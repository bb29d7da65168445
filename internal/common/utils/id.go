// Package utils provides shared helpers for ID generation, retry logic,
// and value conversion used throughout the engine.
package utils

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lucsky/cuid"
)

// NewEntityID generates a collision-resistant id for a stored record.
// CUIDs are shorter than UUIDs and sort roughly by creation time, which
// keeps primary-key indexes append-mostly.
func NewEntityID() string {
	return cuid.New()
}

// NewUUID generates a random RFC 4122 v4 UUID string.
func NewUUID() string {
	return uuid.NewString()
}

// NewTransactionID generates an id for one logical transaction, used for
// log correlation across coordinator and connector calls.
func NewTransactionID() string {
	return fmt.Sprintf("txn-%s", uuid.NewString())
}

// NewRequestID generates a unique request ID for tracing.
// The timestamp suffix makes ids sortable by creation time.
func NewRequestID() string {
	return fmt.Sprintf("req-%s-%d", cuid.Slug(), time.Now().Unix())
}
