package inventory

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidRecord is returned when a record lacks an id or payload.
	ErrInvalidRecord = errors.New("invalid scan record")

	// ErrDuplicateID is returned when a record id is already in the log.
	ErrDuplicateID = errors.New("duplicate scan record id")
)

// ScanRecord is one captured barcode. Records are immutable once appended.
type ScanRecord struct {
	ID           string    `json:"id"`
	Payload      string    `json:"payload"`
	SymbologyTag string    `json:"symbologyTag"`
	CapturedAt   time.Time `json:"capturedAt"`
}

// Validate checks the fields every persisted record must carry.
func (r ScanRecord) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidRecord)
	}
	if r.Payload == "" {
		return fmt.Errorf("%w: empty payload (id=%s)", ErrInvalidRecord, r.ID)
	}
	return nil
}
