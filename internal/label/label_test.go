package label

import (
	"bytes"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stockscan/internal/inventory"
)

var rec = inventory.ScanRecord{ID: "rec-1", Payload: "SKU-000123", SymbologyTag: "code128"}

func TestPNG(t *testing.T) {
	data, err := PNG(rec, 128)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 128, img.Bounds().Dx())
	assert.Equal(t, 128, img.Bounds().Dy())
}

func TestPNGDefaultSize(t *testing.T) {
	data, err := PNG(rec, 0)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, DefaultSize, img.Bounds().Dx())
}

func TestEmptyPayload(t *testing.T) {
	_, err := PNG(inventory.ScanRecord{ID: "rec-1", Payload: "  "}, 64)
	assert.ErrorIs(t, err, ErrEmptyContent)

	_, err = Terminal(inventory.ScanRecord{ID: "rec-1"})
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "label.png")
	require.NoError(t, WriteFile(path, rec, 64))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	_, err = png.Decode(bytes.NewReader(data))
	assert.NoError(t, err)
}

func TestTerminal(t *testing.T) {
	out, err := Terminal(rec)
	require.NoError(t, err)
	assert.NotEmpty(t, out)
	assert.Contains(t, out, "\n")
}
