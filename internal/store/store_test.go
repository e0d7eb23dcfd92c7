package store_test

import (
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/CZERTAINLY/scand/internal/model"
	"github.com/CZERTAINLY/scand/internal/store"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

func TestOpen_CreatesDirectory(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "scans")
	dir, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dir.Close() })

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.True(t, info.IsDir())
	require.Equal(t, path, dir.Path())
}

func TestReserve(t *testing.T) {
	t.Parallel()
	dir, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = dir.Close() })

	now := time.Date(2025, 10, 22, 15, 4, 5, 123456789, time.UTC)
	raw, out, err := dir.Reserve(now)
	require.NoError(t, err)
	require.Equal(t, "scan_temp_20251022_150405_123456.bmp", raw)
	require.Equal(t, "scan_20251022_150405_123456.jpg", out)

	// same timestamp, but the image exists already
	f, err := dir.Create(out)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	raw, out, err = dir.Reserve(now)
	require.NoError(t, err)
	require.Equal(t, "scan_temp_20251022_150405_123456_1.bmp", raw)
	require.Equal(t, "scan_20251022_150405_123456_1.jpg", out)
}

func TestWriteRaw(t *testing.T) {
	t.Parallel()
	dir, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = dir.Close() })

	img := image.NewRGBA(image.Rect(0, 0, 8, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	require.NoError(t, dir.WriteRaw("scan_temp_x.bmp", img))

	f, err := dir.Open("scan_temp_x.bmp")
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	decoded, err := bmp.Decode(f)
	require.NoError(t, err)
	require.Equal(t, img.Bounds(), decoded.Bounds())
	r, g, b, _ := decoded.At(1, 1).RGBA()
	require.Equal(t, uint32(0xffff), r)
	require.Zero(t, g)
	require.Zero(t, b)
}

func TestOpen_Names(t *testing.T) {
	t.Parallel()
	base := t.TempDir()
	scans := filepath.Join(base, "scans")
	dir, err := store.Open(scans)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dir.Close() })

	require.NoError(t, os.WriteFile(filepath.Join(base, "secret.txt"), []byte("secret"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(scans, "scan_1.jpg"), []byte("jpeg"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(scans, "done"), 0o755))

	f, err := dir.Open("scan_1.jpg")
	require.NoError(t, err)
	b, err := io.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.Equal(t, "jpeg", string(b))

	for _, name := range []string{"", ".", "..", "../secret.txt", "/etc/passwd", `..\secret.txt`} {
		_, err = dir.Open(name)
		require.ErrorIs(t, err, model.ErrInvalidFileName, name)
	}

	_, err = dir.Open("missing.jpg")
	require.ErrorIs(t, err, model.ErrFileNotFound)
	_, err = dir.Open("done")
	require.ErrorIs(t, err, model.ErrFileNotFound)
}

func TestRemove(t *testing.T) {
	t.Parallel()
	dir, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = dir.Close() })

	f, err := dir.Create("scan_temp_1.bmp")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, dir.Remove("scan_temp_1.bmp"))
	_, err = dir.Open("scan_temp_1.bmp")
	require.ErrorIs(t, err, model.ErrFileNotFound)
	// idempotent
	require.NoError(t, dir.Remove("scan_temp_1.bmp"))
}

func TestClose(t *testing.T) {
	t.Parallel()
	dir, err := store.Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, dir.Close())
	require.Error(t, dir.Close())
	_, _, err = dir.Reserve(time.Now())
	require.Error(t, err)
}
