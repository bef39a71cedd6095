// Package capture wraps the external barcode capture engine.
//
// The engine owns the camera, image decoding and symbology recognition. This
// package only exposes a narrow lifecycle surface (initialize, attach, camera
// power, detection toggle, detach) and a single detection callback. Every raw
// engine failure is translated into a fault.Error before it leaves the package.
//
// Implementations of Engine:
//   - SimEngine: in-process engine for local runs and tests
//   - NATSEngine: remote scanning device reached over NATS request/reply
package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// DefaultSymbology is the only symbology the station scans unless configured.
const DefaultSymbology = "code128"

// Settings configures the engine at initialization.
type Settings struct {
	// LicenseKey is the engine credential.
	LicenseKey string `json:"licenseKey,omitempty"`

	// Symbology is the single symbology the engine recognizes (e.g. "code128").
	Symbology string `json:"symbology"`

	// LibraryLocation points the engine at its decoder runtime.
	LibraryLocation string `json:"libraryLocation,omitempty"`
}

// ErrInvalidSettings is returned when Settings fail validation.
var ErrInvalidSettings = errors.New("invalid capture settings")

// Validate checks that exactly one symbology is configured.
func (s Settings) Validate() error {
	sym := strings.TrimSpace(s.Symbology)
	if sym == "" {
		return fmt.Errorf("%w: symbology is required", ErrInvalidSettings)
	}
	if strings.ContainsAny(sym, ", ") {
		return fmt.Errorf("%w: exactly one symbology allowed, got %q", ErrInvalidSettings, s.Symbology)
	}
	return nil
}

// ViewHandle identifies an engine view bound to a display surface.
type ViewHandle string

// Detection is a single recognized barcode as delivered by the engine.
type Detection struct {
	Payload      string `json:"payload"`
	SymbologyTag string `json:"symbologyTag"`
}

// Engine is the capture SDK boundary.
//
// Calls may block for as long as the engine needs. Callers serialize lifecycle
// calls; an Engine does not need to tolerate overlapping calls.
type Engine interface {
	// Initialize performs one-time setup: credential validation, camera
	// enumeration and symbology configuration.
	Initialize(ctx context.Context, settings Settings) error

	// Attach binds a view to the named display surface.
	Attach(ctx context.Context, surface string) (ViewHandle, error)

	// SetDetectionEnabled toggles detection delivery without touching the camera.
	SetDetectionEnabled(ctx context.Context, enabled bool) error

	// SetCameraPower switches the camera on or off.
	SetCameraPower(ctx context.Context, on bool) error

	// Detach unbinds the view. Camera and detection must already be off.
	Detach(ctx context.Context, view ViewHandle) error

	// OnDetection installs the detection sink. Detections may be delivered
	// from any goroutine.
	OnDetection(fn func(Detection))
}

// NormalizeSymbology strips the engine's "sy-" tag prefix and lower-cases the
// name so tags and configured symbologies compare equal.
func NormalizeSymbology(tag string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(tag)), "sy-")
}
