package inventory

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// legacyNamespace seeds ids derived for records written before ids existed.
var legacyNamespace = uuid.MustParse("6f1c3a52-2d0e-4b8f-9a3c-0d5e7b1f4a21")

// wireRecord accepts both the current record shape and the legacy
// {data, symbology, timestamp} shape.
type wireRecord struct {
	ID           string `json:"id"`
	Payload      string `json:"payload"`
	SymbologyTag string `json:"symbologyTag"`
	CapturedAt   string `json:"capturedAt"`

	Data      string `json:"data"`
	Symbology string `json:"symbology"`
	Timestamp string `json:"timestamp"`
}

// encodeSnapshot serializes records newest-first. records is oldest-first.
func encodeSnapshot(records []ScanRecord, extra *ScanRecord) (string, error) {
	n := len(records)
	if extra != nil {
		n++
	}
	out := make([]ScanRecord, 0, n)
	if extra != nil {
		out = append(out, *extra)
	}
	for i := len(records) - 1; i >= 0; i-- {
		out = append(out, records[i])
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("encode inventory snapshot: %w", err)
	}
	return string(data), nil
}

// decodeSnapshot parses a newest-first snapshot and returns it oldest-first.
// Unusable entries are skipped with a warning; a snapshot that is not a JSON
// array is an error.
func decodeSnapshot(raw string) ([]ScanRecord, error) {
	var wire []wireRecord
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return nil, fmt.Errorf("decode inventory snapshot: %w", err)
	}

	seen := make(map[string]bool, len(wire))
	newestFirst := make([]ScanRecord, 0, len(wire))
	for i, w := range wire {
		rec, ok := w.toRecord(i)
		if !ok {
			slog.Warn("skipping unusable inventory entry", "position", i)
			continue
		}
		if seen[rec.ID] {
			slog.Warn("skipping duplicate inventory entry", "position", i, "id", rec.ID)
			continue
		}
		seen[rec.ID] = true
		newestFirst = append(newestFirst, rec)
	}

	out := make([]ScanRecord, len(newestFirst))
	for i, rec := range newestFirst {
		out[len(newestFirst)-1-i] = rec
	}
	return out, nil
}

func (w wireRecord) toRecord(position int) (ScanRecord, bool) {
	if w.Payload != "" {
		rec := ScanRecord{
			ID:           w.ID,
			Payload:      w.Payload,
			SymbologyTag: w.SymbologyTag,
			CapturedAt:   parseTime(w.CapturedAt),
		}
		if rec.ID == "" {
			rec.ID = deriveID(rec.Payload, w.CapturedAt, position)
		}
		return rec, true
	}
	if w.Data != "" {
		return ScanRecord{
			ID:           firstNonEmpty(w.ID, deriveID(w.Data, w.Timestamp, position)),
			Payload:      w.Data,
			SymbologyTag: w.Symbology,
			CapturedAt:   parseTime(w.Timestamp),
		}, true
	}
	return ScanRecord{}, false
}

// deriveID builds a stable id for an entry stored without one, so reloading
// the same snapshot yields the same ids.
func deriveID(payload, at string, position int) string {
	return uuid.NewSHA1(legacyNamespace, []byte(payload+"\x00"+at+"\x00"+strconv.Itoa(position))).String()
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
