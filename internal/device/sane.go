package device

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "image/png"

	_ "golang.org/x/image/tiff"

	"github.com/CZERTAINLY/scand/internal/model"
)

// deviceListFormat makes scanimage print one tab separated line per device:
// name, vendor, model and type.
const deviceListFormat = "%d\t%v\t%m\t%t%n"

// queryTimeout bounds the device listing and option queries, the transfer
// itself has no timeout as a feeder may hold many pages.
const queryTimeout = 30 * time.Second

var reSource = regexp.MustCompile(`(?m)^\s*--source\s+(.+?)\s+\[([^\]]*)\]\s*$`)

// Sane drives scanners through the SANE scanimage command.
type Sane struct {
	binary     string
	name       string
	source     string
	format     string
	resolution int
	mode       string
}

func NewSane(cfg model.Device) *Sane {
	s := &Sane{
		binary:     cfg.Binary,
		name:       cfg.Name,
		source:     cfg.Source,
		format:     cfg.Format,
		resolution: cfg.Resolution,
		mode:       cfg.Mode,
	}
	if s.binary == "" {
		s.binary = "scanimage"
	}
	if s.format == "" {
		s.format = model.FormatPNG
	}
	return s
}

func (s *Sane) Devices(ctx context.Context) ([]Info, error) {
	res := run(ctx, Command{
		Path:    s.binary,
		Args:    []string{"--formatted-device-list=" + deviceListFormat},
		Timeout: queryTimeout,
	}, logStderr)
	if res.Err != nil {
		return nil, fmt.Errorf("listing devices: %w", res.Err)
	}
	return parseDeviceList(res.Stdout.String()), nil
}

// SelectDevice returns the configured device, or the first one found when
// no name is configured.
func (s *Sane) SelectDevice(ctx context.Context) (Device, bool, error) {
	infos, err := s.Devices(ctx)
	if err != nil {
		return nil, false, err
	}
	for _, info := range infos {
		if s.name == "" || info.Name == s.name {
			slog.DebugContext(ctx, "device selected", "device", info.Name)
			return &saneDevice{sane: s, info: info}, true, nil
		}
	}
	if s.name != "" {
		slog.WarnContext(ctx, "configured device not found", "device", s.name, "found", len(infos))
	}
	return nil, false, nil
}

type saneDevice struct {
	sane *Sane
	info Info
}

func (d *saneDevice) Info() Info {
	return d.info
}

func (d *saneDevice) Sources(ctx context.Context) ([]Source, error) {
	res := run(ctx, Command{
		Path:    d.sane.binary,
		Args:    []string{"--device-name=" + d.info.Name, "--all-options"},
		Timeout: queryTimeout,
	}, logStderr)
	if res.Err != nil {
		return nil, fmt.Errorf("querying options of %s: %w", d.info.Name, res.Err)
	}
	return preferred(parseSources(res.Stdout.String()), d.sane.source), nil
}

func (d *saneDevice) Transfer(ctx context.Context, src Source) (image.Image, error) {
	args := []string{
		"--device-name=" + d.info.Name,
		"--format=" + d.sane.format,
	}
	if src.Name != "" {
		args = append(args, "--source="+src.Name)
	}
	if d.sane.resolution > 0 {
		args = append(args, "--resolution="+strconv.Itoa(d.sane.resolution))
	}
	if d.sane.mode != "" {
		args = append(args, "--mode="+d.sane.mode)
	}

	var lastLine string
	res := run(ctx, Command{Path: d.sane.binary, Args: args}, func(ctx context.Context, line string) {
		logStderr(ctx, line)
		lastLine = line
	})
	if res.Err != nil {
		if code := res.State.ExitCode(); code > 0 && lastLine != "" {
			return nil, fmt.Errorf("scanimage exited with code %d: %w: %s", code, res.Err, lastLine)
		}
		if lastLine != "" {
			return nil, fmt.Errorf("%w: %s", res.Err, lastLine)
		}
		return nil, res.Err
	}
	slog.DebugContext(ctx, "image transferred",
		"device", d.info.Name,
		"source", src.Name,
		"bytes", res.Stdout.Len(),
		"duration", res.Stopped.Sub(res.Started),
	)

	img, _, err := image.Decode(res.Stdout)
	if err != nil {
		return nil, fmt.Errorf("decoding %s output: %w", d.sane.format, err)
	}
	return img, nil
}

func logStderr(ctx context.Context, line string) {
	slog.DebugContext(ctx, "scanimage", "stderr", line)
}

func parseDeviceList(out string) []Info {
	var infos []Info
	for line := range strings.Lines(out) {
		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 4)
		info := Info{Name: strings.TrimSpace(fields[0])}
		if len(fields) > 1 {
			info.Vendor = strings.TrimSpace(fields[1])
		}
		if len(fields) > 2 {
			info.Model = strings.TrimSpace(fields[2])
		}
		if len(fields) > 3 {
			info.Type = strings.TrimSpace(fields[3])
		}
		if info.Name == "" {
			continue
		}
		infos = append(infos, info)
	}
	return infos
}

// parseSources extracts the choices of the --source option from the output
// of scanimage --all-options. A device without an active --source option
// has a single default source.
func parseSources(out string) []Source {
	m := reSource.FindStringSubmatch(out)
	if m == nil || m[2] == "inactive" {
		return []Source{{}}
	}
	var sources []Source
	for choice := range strings.SplitSeq(m[1], "|") {
		choice = strings.TrimSpace(choice)
		if choice == "" {
			continue
		}
		sources = append(sources, Source{Name: choice})
	}
	return sources
}
