// Package store manages the scan output directory.
//
// Every completed job leaves an encoded image named
// scan_YYYYMMDD_HHMMSS_ffffff.jpg there; the raw bitmap captured from the
// device is written next to it as scan_temp_YYYYMMDD_HHMMSS_ffffff.bmp and
// removed by the caller once encoding is done (unless configured to keep it).
// All access goes through an os.Root, so names coming from HTTP requests can
// not escape the directory.
package store

import (
	"errors"
	"fmt"
	"image"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/image/bmp"

	"github.com/CZERTAINLY/scand/internal/model"
)

const stampLayout = "20060102_150405"

type Dir struct {
	path string
	mx   sync.Mutex
	root *os.Root
}

// Open creates path if it does not exist and opens it as the output root.
func Open(path string) (*Dir, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating scan directory %s: %w", path, err)
	}
	root, err := os.OpenRoot(path)
	if err != nil {
		return nil, fmt.Errorf("opening scan directory %s: %w", path, err)
	}
	return &Dir{path: path, root: root}, nil
}

func (d *Dir) Path() string {
	return d.path
}

// Reserve returns unused names for the raw bitmap and the encoded image of a
// job started at now.
func (d *Dir) Reserve(now time.Time) (raw string, out string, err error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	if d.root == nil {
		return "", "", errors.New("store already closed")
	}

	stamp := fmt.Sprintf("%s_%06d", now.Format(stampLayout), now.Nanosecond()/int(time.Microsecond))
	for i := 0; ; i++ {
		suffix := ""
		if i > 0 {
			suffix = "_" + strconv.Itoa(i)
		}
		raw = "scan_temp_" + stamp + suffix + ".bmp"
		out = "scan_" + stamp + suffix + ".jpg"
		if !d.exists(raw) && !d.exists(out) {
			return raw, out, nil
		}
	}
}

func (d *Dir) exists(name string) bool {
	_, err := d.root.Stat(name)
	return err == nil
}

// WriteRaw stores img as an uncompressed BMP.
func (d *Dir) WriteRaw(name string, img image.Image) error {
	f, err := d.Create(name)
	if err != nil {
		return err
	}
	if err := bmp.Encode(f, img); err != nil {
		_ = f.Close()
		return fmt.Errorf("encoding bmp %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", name, err)
	}
	return nil
}

// Create creates or truncates the named file.
func (d *Dir) Create(name string) (*os.File, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	f, err := d.root.Create(name)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", name, err)
	}
	return f, nil
}

// Open opens a regular file of the directory for reading. It returns
// model.ErrInvalidFileName for anything which is not a plain file name and
// model.ErrFileNotFound when there is no such file.
func (d *Dir) Open(name string) (*os.File, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	f, err := d.root.Open(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", name, model.ErrFileNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat %s: %w", name, err)
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", name, model.ErrFileNotFound)
	}
	return f, nil
}

// Remove deletes the named file, a missing file is not an error.
func (d *Dir) Remove(name string) error {
	if err := validName(name); err != nil {
		return err
	}
	err := d.root.Remove(name)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", name, err)
	}
	slog.Debug("file removed", "dir", d.path, "name", name)
	return nil
}

func (d *Dir) Close() error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if d.root == nil {
		return errors.New("store already closed")
	}
	err := d.root.Close()
	d.root = nil
	return err
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%q: %w", name, model.ErrInvalidFileName)
	}
	return nil
}
