// Package export writes the inventory as JSONL to files or object storage.
//
// The stream starts with a header line followed by one line per scan,
// newest first:
//
//	{"version":"1","type":"header","timestamp":"...","record_count":2}
//	{"type":"scan","data":{"id":"...","payload":"...","symbologyTag":"code128","capturedAt":"..."}}
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/stockscan/internal/inventory"
)

// Version is the JSONL format version written in the header.
const Version = "1"

type header struct {
	Version     string    `json:"version"`
	Type        string    `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	RecordCount int       `json:"record_count"`
}

type record struct {
	Type string               `json:"type"`
	Data inventory.ScanRecord `json:"data"`
}

// WriteJSONL writes records (newest first) as JSONL to w, stamped with now.
func WriteJSONL(w io.Writer, records []inventory.ScanRecord, now time.Time) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:     Version,
		Type:        "header",
		Timestamp:   now.UTC(),
		RecordCount: len(records),
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for _, r := range records {
		if err := enc.Encode(record{Type: "scan", Data: r}); err != nil {
			return fmt.Errorf("encode scan %s: %w", r.ID, err)
		}
	}
	return nil
}

// Destination is an export target.
type Destination interface {
	// Write sends the JSONL payload to the destination.
	Write(ctx context.Context, data []byte) error
}

// Export renders records once and writes the payload to every destination.
// A failing destination does not stop the others.
func Export(ctx context.Context, records []inventory.ScanRecord, now time.Time, dests ...Destination) error {
	var buf bytes.Buffer
	if err := WriteJSONL(&buf, records, now); err != nil {
		return err
	}

	var errs []error
	for _, d := range dests {
		if err := d.Write(ctx, buf.Bytes()); err != nil {
			slog.Error("export failed", "destination", fmt.Sprintf("%T", d), "error", err)
			errs = append(errs, err)
			continue
		}
		slog.Info("inventory exported", "destination", fmt.Sprintf("%T", d), "records", len(records))
	}
	return errors.Join(errs...)
}

// FileDestination writes the payload to a local file, replacing it
// atomically.
type FileDestination struct {
	Path string
}

// Write implements Destination.
func (d FileDestination) Write(_ context.Context, data []byte) error {
	dir := filepath.Dir(d.Path)
	tmp, err := os.CreateTemp(dir, ".stockscan-export-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), d.Path); err != nil {
		return fmt.Errorf("rename to %s: %w", d.Path, err)
	}
	return nil
}

// WriterDestination writes the payload to an io.Writer such as stdout.
type WriterDestination struct {
	W io.Writer
}

// Write implements Destination.
func (d WriterDestination) Write(_ context.Context, data []byte) error {
	_, err := d.W.Write(data)
	return err
}
