// Package label renders scan records as QR codes so an item can be
// relabelled with a code any phone camera reads.
package label

import (
	"errors"
	"fmt"
	"os"
	"strings"

	skipqrcode "github.com/skip2/go-qrcode"

	"github.com/roach88/stockscan/internal/inventory"
)

var (
	// ErrEmptyContent is returned when the record payload is blank.
	ErrEmptyContent = errors.New("label content cannot be empty")
	// ErrGenerate is returned when the QR encoder fails.
	ErrGenerate = errors.New("failed to generate QR code")
)

// DefaultSize is the PNG edge length in pixels used when size <= 0.
const DefaultSize = 256

func content(rec inventory.ScanRecord) (string, error) {
	if strings.TrimSpace(rec.Payload) == "" {
		return "", ErrEmptyContent
	}
	return rec.Payload, nil
}

// PNG renders the record payload as a QR code PNG.
func PNG(rec inventory.ScanRecord, size int) ([]byte, error) {
	c, err := content(rec)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = DefaultSize
	}
	png, err := skipqrcode.Encode(c, skipqrcode.Medium, size)
	if err != nil {
		return nil, errors.Join(ErrGenerate, err)
	}
	return png, nil
}

// WriteFile writes the record's QR code PNG to path.
func WriteFile(path string, rec inventory.ScanRecord, size int) error {
	png, err := PNG(rec, size)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return fmt.Errorf("write label %s: %w", path, err)
	}
	return nil
}

// Terminal renders the record's QR code with half-block characters for
// display in a terminal.
func Terminal(rec inventory.ScanRecord) (string, error) {
	c, err := content(rec)
	if err != nil {
		return "", err
	}
	q, err := skipqrcode.New(c, skipqrcode.Medium)
	if err != nil {
		return "", errors.Join(ErrGenerate, err)
	}
	return q.ToSmallString(false), nil
}
