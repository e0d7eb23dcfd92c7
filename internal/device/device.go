// Package device talks to document scanners.
//
// A Capability enumerates devices and selects the one configured for
// scanning. A selected Device lists its usable sources (flatbed, feeder, ...)
// and transfers a single page as an image.Image. Having no device or a
// device without usable sources are ordinary outcomes, not errors.
//
// Two drivers exist:
//   - sane: wraps the SANE scanimage binary
//   - dir: serves images dropped into an inbox directory, for setups
//     without a scanner attached
package device

import (
	"context"
	"fmt"
	"image"

	"github.com/CZERTAINLY/scand/internal/model"
)

// Info describes a device found on the system.
type Info struct {
	Name   string `json:"name"`
	Vendor string `json:"vendor,omitempty"`
	Model  string `json:"model,omitempty"`
	Type   string `json:"type,omitempty"`
}

// Source is a scan source of a device, an empty Name means the device
// default.
type Source struct {
	Name string `json:"name"`
}

type Device interface {
	Info() Info
	Sources(ctx context.Context) ([]Source, error)
	Transfer(ctx context.Context, src Source) (image.Image, error)
}

type Capability interface {
	Devices(ctx context.Context) ([]Info, error)
	// SelectDevice returns false when no device is available.
	SelectDevice(ctx context.Context) (Device, bool, error)
}

// New returns the Capability configured by cfg.Driver.
func New(cfg model.Device) (Capability, error) {
	switch cfg.Driver {
	case model.DriverSane, "":
		return NewSane(cfg), nil
	case model.DriverDir:
		return NewDir(cfg.Dir)
	default:
		return nil, fmt.Errorf("unsupported device driver %q", cfg.Driver)
	}
}

// preferred moves the source named want to the front of sources. When want
// is set but the device does not offer it, there is no usable source.
func preferred(sources []Source, want string) []Source {
	if want == "" {
		return sources
	}
	for i, s := range sources {
		if s.Name == want {
			out := make([]Source, 0, len(sources))
			out = append(out, s)
			out = append(out, sources[:i]...)
			return append(out, sources[i+1:]...)
		}
	}
	return nil
}
