package scanjob_test

import (
	"context"
	"image"
	"image/color"
	"sync"

	"github.com/CZERTAINLY/scand/internal/device"
)

// fakeCapability hands out its devices one per SelectDevice call, the last
// one is repeated. A nil device means no device is available.
type fakeCapability struct {
	mx      sync.Mutex
	devices []*fakeDevice
	err     error
}

func withDevices(devices ...*fakeDevice) *fakeCapability {
	return &fakeCapability{devices: devices}
}

func (f *fakeCapability) Devices(context.Context) ([]device.Info, error) {
	return nil, nil
}

func (f *fakeCapability) SelectDevice(context.Context) (device.Device, bool, error) {
	f.mx.Lock()
	defer f.mx.Unlock()
	if f.err != nil {
		return nil, false, f.err
	}
	if len(f.devices) == 0 {
		return nil, false, nil
	}
	d := f.devices[0]
	if len(f.devices) > 1 {
		f.devices = f.devices[1:]
	}
	if d == nil {
		return nil, false, nil
	}
	return d, true, nil
}

type fakeDevice struct {
	sources     []device.Source
	sourcesErr  error
	transferErr error
	panicMsg    string

	// when set, Sources and Transfer signal the first channel once entered
	// and block until the second one is closed or ctx is done
	sourcesEntered  chan struct{}
	sourcesGate     chan struct{}
	transferEntered chan struct{}
	transferGate    chan struct{}
}

func newDevice() *fakeDevice {
	return &fakeDevice{sources: []device.Source{{Name: "Flatbed"}}}
}

func (d *fakeDevice) Info() device.Info {
	return device.Info{Name: "fake:0", Vendor: "Acme"}
}

func (d *fakeDevice) Sources(ctx context.Context) ([]device.Source, error) {
	if err := block(ctx, d.sourcesEntered, d.sourcesGate); err != nil {
		return nil, err
	}
	return d.sources, d.sourcesErr
}

func (d *fakeDevice) Transfer(ctx context.Context, _ device.Source) (image.Image, error) {
	if err := block(ctx, d.transferEntered, d.transferGate); err != nil {
		return nil, err
	}
	if d.panicMsg != "" {
		panic(d.panicMsg)
	}
	if d.transferErr != nil {
		return nil, d.transferErr
	}
	img := image.NewRGBA(image.Rect(0, 0, 16, 8))
	img.Set(2, 2, color.RGBA{R: 255, A: 255})
	return img, nil
}

func block(ctx context.Context, entered, gate chan struct{}) error {
	if entered != nil {
		close(entered)
	}
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}
