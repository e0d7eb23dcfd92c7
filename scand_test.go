package scand_test

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var (
	scandPath string

	// tmpDir is a function used to create a tempdir
	// -test.keepdir flag says test to use os.MkdirTemp
	// default is t.TempDir, which will be cleaned up
	tmpDir func(t *testing.T) string
)

func TestMain(m *testing.M) {
	var keepTestDir bool
	flag.BoolVar(&keepTestDir, "test.keepdir", false, "use os.TempDir instead of t.TempDir to keep test artifacts")

	flag.Parse()

	if testing.Short() {
		slog.Warn("integration tests with -short are ignored")
		os.Exit(0)
	}

	if !keepTestDir {
		tmpDir = func(t *testing.T) string {
			t.Helper()
			return t.TempDir()
		}
	} else {
		tmpDir = func(t *testing.T) string {
			t.Helper()
			dir, err := os.MkdirTemp("", t.Name()+"*")
			require.NoError(t, err)
			_, err = fmt.Fprintf(t.Output(), "TEMPDIR %s: -test.keepdir used, so it won't be automatically deleted", dir)
			require.NoError(t, err)
			return dir
		}
	}

	if !isExecutable("scand-ci") {
		slog.Warn("integration tests skipped, cannot locate scand-ci binary: run go build -race -cover -covermode=atomic -o scand-ci ./cmd/scand/ first")
		os.Exit(0)
	}

	var err error
	scandPath, err = filepath.Abs("scand-ci")
	if err != nil {
		slog.Error("can't get abspath for scand-ci", "error", err)
		os.Exit(1)
	}
	coverDir, err := filepath.Abs("coverage")
	if err != nil {
		slog.Error("can't get value for GOCOVERDIR for scand-ci", "error", err)
		os.Exit(1)
	}
	err = rmRfMkdirp(coverDir)
	if err != nil {
		slog.Error("can't reset GOCOVERDIR for scand-ci", "error", err, "coverdir", coverDir)
		os.Exit(1)
	}

	err = os.Setenv("GOCOVERDIR", coverDir)
	if err != nil {
		slog.Error("can't set GOCOVERDIR env variable", "error", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

const dirConfig = `
version: 0
service:
    verbose: true
store:
    dir: scans
device:
    driver: dir
    dir: inbox
encoder:
    quality: 80
    max_width: 100
`

func TestScand_Scan(t *testing.T) {
	dir := tmpDir(t)
	creat(t, filepath.Join(dir, "scand.yaml"), []byte(dirConfig))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "inbox"), 0o755))
	creat(t, filepath.Join(dir, "inbox", "page.png"), page(t, 400, 300))

	stdout, stderr, err := scand(t, dir, "scan", "--config", "scand.yaml")
	if err != nil {
		t.Logf("%s", stderr)
		require.NoError(t, err)
	}

	path := strings.TrimSpace(stdout)
	require.True(t, filepath.IsAbs(path))
	require.Equal(t, filepath.Join(dir, "scans"), filepath.Dir(path))
	require.True(t, strings.HasSuffix(path, ".jpg"))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	cfg, err := jpeg.DecodeConfig(f)
	require.NoError(t, err)
	require.Equal(t, 100, cfg.Width)
	require.Equal(t, 75, cfg.Height)

	// the page was consumed
	require.FileExists(t, filepath.Join(dir, "inbox", "done", "page.png"))

	// and nothing is left to scan
	_, stderr, err = scand(t, dir, "scan", "--config", "scand.yaml")
	require.Error(t, err)
	require.Contains(t, stderr, "Selected scanner has no items")
}

func TestScand_Devices(t *testing.T) {
	dir := tmpDir(t)
	creat(t, filepath.Join(dir, "scand.yaml"), []byte(dirConfig))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "inbox"), 0o755))
	creat(t, filepath.Join(dir, "inbox", "a.png"), page(t, 10, 10))

	stdout, stderr, err := scand(t, dir, "devices", "--config", "scand.yaml")
	if err != nil {
		t.Logf("%s", stderr)
		require.NoError(t, err)
	}

	var out struct {
		Devices []struct {
			Name string `json:"name"`
			Type string `json:"type"`
		} `json:"devices"`
		Sources []struct {
			Name string `json:"name"`
		} `json:"sources"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	require.Len(t, out.Devices, 1)
	require.Equal(t, "directory", out.Devices[0].Type)
	require.Len(t, out.Sources, 1)
	require.Equal(t, "a.png", out.Sources[0].Name)
}

func TestScand_InvalidConfig(t *testing.T) {
	dir := tmpDir(t)
	creat(t, filepath.Join(dir, "scand.yaml"), []byte("version: 0\ndevice:\n    driver: twain\n"))

	_, stderr, err := scand(t, dir, "scan", "--config", "scand.yaml")
	require.Error(t, err)
	require.Contains(t, stderr, "device.driver")
}

func scand(t *testing.T, dir string, args ...string) (string, string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 60*time.Second)
	defer cancel()
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, scandPath, args...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

func page(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		img.Set(x, h/2, color.Black)
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().Perm()&0111 != 0
}

func rmRfMkdirp(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

func creat(t *testing.T, path string, content []byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, f.Close())
	}()
	_, err = f.Write(content)
	require.NoError(t, err)
	err = f.Sync()
	require.NoError(t, err)
}
