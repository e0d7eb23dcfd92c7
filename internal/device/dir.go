package device

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"slices"
	"strings"
	"time"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// doneDir receives the images already transferred.
const doneDir = "done"

var imageExts = []string{".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff"}

// Dir treats a directory as a scanner with a feeder: every image file in it
// is a page, transferred oldest first.
type Dir struct {
	path string
}

func NewDir(path string) (*Dir, error) {
	if path == "" {
		return nil, errors.New("dir driver: directory is not configured")
	}
	return &Dir{path: path}, nil
}

func (d *Dir) Devices(ctx context.Context) ([]Info, error) {
	fi, err := os.Stat(d.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if !fi.IsDir() {
		slog.WarnContext(ctx, "dir driver: not a directory", "path", d.path)
		return nil, nil
	}
	return []Info{d.info()}, nil
}

func (d *Dir) SelectDevice(ctx context.Context) (Device, bool, error) {
	infos, err := d.Devices(ctx)
	if err != nil || len(infos) == 0 {
		return nil, false, err
	}
	return &dirDevice{path: d.path, info: infos[0]}, true, nil
}

func (d *Dir) info() Info {
	return Info{Name: "dir:" + d.path, Type: "directory"}
}

type dirDevice struct {
	path string
	info Info
}

func (d *dirDevice) Info() Info {
	return d.info
}

// Sources returns one source per pending image file.
func (d *dirDevice) Sources(ctx context.Context) ([]Source, error) {
	root, err := os.OpenRoot(d.path)
	if err != nil {
		return nil, err
	}
	defer root.Close()

	entries, err := fs.ReadDir(root.FS(), ".")
	if err != nil {
		return nil, err
	}

	type page struct {
		name string
		mod  time.Time
	}
	var pages []page
	for _, e := range entries {
		if !e.Type().IsRegular() || !isImage(e.Name()) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			slog.DebugContext(ctx, "dir driver: skipping entry", "name", e.Name(), "error", err)
			continue
		}
		pages = append(pages, page{name: e.Name(), mod: fi.ModTime()})
	}
	slices.SortFunc(pages, func(a, b page) int {
		return cmp.Or(a.mod.Compare(b.mod), strings.Compare(a.name, b.name))
	})

	sources := make([]Source, 0, len(pages))
	for _, p := range pages {
		sources = append(sources, Source{Name: p.name})
	}
	return sources, nil
}

// Transfer decodes the image src names and moves it to the done directory.
func (d *dirDevice) Transfer(ctx context.Context, src Source) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if src.Name == "" || !isImage(src.Name) || path.Base(src.Name) != src.Name {
		return nil, fmt.Errorf("invalid source %q", src.Name)
	}

	root, err := os.OpenRoot(d.path)
	if err != nil {
		return nil, err
	}
	defer root.Close()

	f, err := root.Open(src.Name)
	if err != nil {
		return nil, err
	}
	img, format, err := image.Decode(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", src.Name, err)
	}

	if err := root.Mkdir(doneDir, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
		return nil, err
	}
	if err := root.Rename(src.Name, path.Join(doneDir, src.Name)); err != nil {
		return nil, err
	}
	slog.DebugContext(ctx, "image transferred", "device", d.info.Name, "source", src.Name, "format", format)
	return img, nil
}

func isImage(name string) bool {
	return slices.Contains(imageExts, strings.ToLower(path.Ext(name)))
}
