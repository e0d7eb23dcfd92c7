package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/CZERTAINLY/scand/internal/device"
	"github.com/CZERTAINLY/scand/internal/httpapi"
	"github.com/CZERTAINLY/scand/internal/imaging"
	"github.com/CZERTAINLY/scand/internal/log"
	"github.com/CZERTAINLY/scand/internal/model"
	"github.com/CZERTAINLY/scand/internal/scanjob"
	"github.com/CZERTAINLY/scand/internal/store"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve the scanner HTTP API",
	RunE:  doServe,
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "scan a single page and print the path of the image",
	RunE:  doScan,
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "list the scanners and the sources of the selected one",
	RunE:  doDevices,
}

// Scand wires the scanner service together from the configuration.
type Scand struct {
	devices device.Capability
	store   *store.Dir
	manager *scanjob.Manager
}

func NewScand(ctx context.Context, cfg model.Config) (*Scand, error) {
	if cfg.Version != 0 {
		return nil, fmt.Errorf("config version %d is not supported, expected 0", cfg.Version)
	}
	devices, err := device.New(cfg.Device)
	if err != nil {
		return nil, err
	}
	timeout, err := cfg.Scan.TimeoutDuration()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.Store.Dir)
	if err != nil {
		return nil, err
	}
	slog.DebugContext(ctx, "scan directory ready", "path", st.Path())

	manager := scanjob.New(
		devices,
		imaging.NewJPEG(cfg.Encoder),
		st,
		scanjob.WithTimeout(timeout),
		scanjob.WithKeepRaw(cfg.Store.KeepRaw),
	)
	return &Scand{
		devices: devices,
		store:   st,
		manager: manager,
	}, nil
}

// Close waits for the running scan and releases the scan directory.
func (s *Scand) Close() error {
	s.manager.Close()
	return s.store.Close()
}

func doServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.ContextAttrs(ctx, slog.Group("scand",
		slog.String("cmd", "serve"),
		slog.Int("pid", os.Getpid()),
	))

	scand, err := NewScand(ctx, config)
	if err != nil {
		return err
	}
	server := httpapi.New(scand.manager, scand.store, scand.devices, config.Service.CORSOrigins)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx, config.Service.Listen)
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.InfoContext(ctx, "shutting down")
		scand.manager.Close()
		return nil
	})
	err = g.Wait()
	// files are served until the server stops
	return errors.Join(err, scand.Close())
}

func doScan(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.ContextAttrs(ctx, slog.Group("scand",
		slog.String("cmd", "scan"),
		slog.Int("pid", os.Getpid()),
	))

	scand, err := NewScand(ctx, config)
	if err != nil {
		return err
	}
	defer func() {
		if err := scand.Close(); err != nil {
			slog.WarnContext(ctx, "closing", "error", err)
		}
	}()

	if _, err := scand.manager.Start(ctx); err != nil {
		return err
	}
	wait := scand.manager.WaitChan()

	var status model.Status
	select {
	case status = <-wait:
	case <-ctx.Done():
		// interrupted, the job stops at its next checkpoint
		scand.manager.Cancel(ctx)
		status = <-wait
	}

	res := status.Result
	if !res.Success() {
		return errors.New(res.Error)
	}
	path, err := filepath.Abs(filepath.Join(scand.store.Path(), res.File))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), path)
	return err
}

type devicesOutput struct {
	Devices  []device.Info   `json:"devices"`
	Selected *device.Info    `json:"selected,omitempty"`
	Sources  []device.Source `json:"sources,omitempty"`
}

func doDevices(cmd *cobra.Command, args []string) error {
	ctx := log.ContextAttrs(cmd.Context(), slog.Group("scand",
		slog.String("cmd", "devices"),
		slog.Int("pid", os.Getpid()),
	))

	devices, err := device.New(config.Device)
	if err != nil {
		return err
	}

	var out devicesOutput
	out.Devices, err = devices.Devices(ctx)
	if err != nil {
		return err
	}
	if out.Devices == nil {
		out.Devices = []device.Info{}
	}

	dev, ok, err := devices.SelectDevice(ctx)
	if err != nil {
		return err
	}
	if ok {
		info := dev.Info()
		out.Selected = &info
		out.Sources, err = dev.Sources(ctx)
		if err != nil {
			return err
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
