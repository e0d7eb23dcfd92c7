package scanjob

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CZERTAINLY/scand/internal/device"
	"github.com/CZERTAINLY/scand/internal/log"
	"github.com/CZERTAINLY/scand/internal/model"
)

const (
	msgCanceledBeforeStart    = "Scan canceled before starting."
	msgCanceledBeforeTransfer = "Scan canceled before transfer."
	msgCanceledDuringTransfer = "Scan canceled during transfer."
	msgTimedOut               = "Scan timed out."
	msgNoDevice               = "No scanner selected"
	msgNoSources              = "Selected scanner has no items"
)

// Encoder converts the raw bitmap read from raw into the final image.
type Encoder interface {
	Encode(ctx context.Context, dst io.Writer, raw io.Reader) error
}

// Store holds the files produced by a job.
type Store interface {
	Reserve(now time.Time) (raw string, out string, err error)
	WriteRaw(name string, img image.Image) error
	Open(name string) (*os.File, error)
	Create(name string) (*os.File, error)
	Remove(name string) error
}

type Option func(*Manager)

// WithTimeout bounds every job. The transfer itself is never interrupted,
// an expired job fails at the next checkpoint.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.timeout = d
	}
}

// WithKeepRaw keeps the raw bitmap next to the encoded image.
func WithKeepRaw(keep bool) Option {
	return func(m *Manager) {
		m.keepRaw = keep
	}
}

// Manager runs at most one scan job at a time.
type Manager struct {
	devices device.Capability
	encoder Encoder
	store   Store
	timeout time.Duration
	keepRaw bool

	lifetime context.Context
	stop     context.CancelCauseFunc
	wg       sync.WaitGroup

	mx        sync.RWMutex
	state     model.JobState
	jobID     string
	cancelRun context.CancelCauseFunc
	started   time.Time
	stopped   time.Time
	result    model.ScanResult
	waits     []chan model.Status
	closed    bool

	// beforeRun is called by the job goroutine before the first checkpoint
	beforeRun func()
}

func New(devices device.Capability, encoder Encoder, store Store, opts ...Option) *Manager {
	lifetime, stop := context.WithCancelCause(context.Background())
	m := &Manager{
		devices:  devices,
		encoder:  encoder,
		store:    store,
		lifetime: lifetime,
		stop:     stop,
		state:    model.StateIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start admits a new job and returns its id. It returns
// model.ErrScanInProgress while a job runs and model.ErrShutdown after Close.
// Start does NOT wait for the job, use Status or WaitChan for the outcome.
func (m *Manager) Start(ctx context.Context) (string, error) {
	m.mx.Lock()
	defer m.mx.Unlock()
	if m.closed {
		return "", model.ErrShutdown
	}
	if m.state == model.StateRunning {
		return "", model.ErrScanInProgress
	}

	id := uuid.NewString()
	m.state = model.StateRunning
	m.jobID = id
	m.started = time.Now().UTC()
	m.stopped = time.Time{}
	m.result = model.ScanResult{}
	m.waits = nil

	// the job outlives the request which started it
	runCtx := log.ContextAttrs(m.lifetime, slog.Group("job", slog.String("id", id)))
	runCtx, m.cancelRun = context.WithCancelCause(runCtx)
	started := m.started

	slog.InfoContext(ctx, "scan started", "job_id", id)
	m.wg.Go(func() {
		m.run(runCtx, started)
	})
	return id, nil
}

// Cancel asks the running job to stop at its next checkpoint. It is a no-op
// when nothing runs.
func (m *Manager) Cancel(ctx context.Context) {
	m.mx.Lock()
	defer m.mx.Unlock()
	if m.state != model.StateRunning {
		slog.DebugContext(ctx, "cancel ignored, no scan running")
		return
	}
	slog.InfoContext(ctx, "scan cancel requested", "job_id", m.jobID)
	m.cancelRun(model.ErrScanCanceled)
}

func (m *Manager) Status() model.Status {
	m.mx.RLock()
	defer m.mx.RUnlock()
	return m.status()
}

func (m *Manager) status() model.Status {
	s := model.Status{
		State:   m.state,
		JobID:   m.jobID,
		Started: m.started,
		Stopped: m.stopped,
	}
	if m.state == model.StateCompleted {
		s.Result = m.result
	}
	return s
}

// WaitChan returns a channel receiving the terminal status of the running
// job. When no job runs, the current status is delivered immediately. The
// channel is closed afterwards.
func (m *Manager) WaitChan() <-chan model.Status {
	ch := make(chan model.Status, 1)
	m.mx.Lock()
	defer m.mx.Unlock()
	if m.state != model.StateRunning {
		ch <- m.status()
		close(ch)
		return ch
	}
	m.waits = append(m.waits, ch)
	return ch
}

// Close stops accepting jobs, interrupts the running one and waits for it.
func (m *Manager) Close() {
	m.mx.Lock()
	m.closed = true
	m.mx.Unlock()

	m.stop(model.ErrShutdown)
	m.wg.Wait()
}

func (m *Manager) run(ctx context.Context, started time.Time) {
	var res model.ScanResult
	defer func() {
		m.finish(ctx, res)
	}()
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "scan panicked", "panic", r, "stack", string(debug.Stack()))
			res = model.Failure(model.FailureUnexpected, fmt.Sprintf("Unexpected scanner error: %v", r))
		}
	}()

	if m.beforeRun != nil {
		m.beforeRun()
	}
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, m.timeout, model.ErrScanTimeout)
		defer cancel()
	}
	res = m.pipeline(ctx, started)
}

func (m *Manager) pipeline(ctx context.Context, started time.Time) model.ScanResult {
	if res, stop := checkpoint(ctx, msgCanceledBeforeStart); stop {
		return res
	}

	dev, ok, err := m.devices.SelectDevice(ctx)
	if err != nil {
		return m.unexpected(ctx, fmt.Errorf("selecting device: %w", err))
	}
	if !ok {
		return model.Failure(model.FailureDeviceUnavailable, msgNoDevice)
	}
	ctx = log.ContextAttrs(ctx, slog.String("device", dev.Info().Name))

	sources, err := dev.Sources(ctx)
	if err != nil {
		return m.unexpected(ctx, fmt.Errorf("listing sources: %w", err))
	}
	if len(sources) == 0 {
		return model.Failure(model.FailureDeviceUnavailable, msgNoSources)
	}

	if res, stop := checkpoint(ctx, msgCanceledBeforeTransfer); stop {
		return res
	}

	// transfer and encoding can not be canceled, only a shutdown stops them
	xctx, xcancel := context.WithCancel(context.WithoutCancel(ctx))
	defer xcancel()
	unhook := context.AfterFunc(m.lifetime, xcancel)
	defer unhook()

	slog.DebugContext(ctx, "transferring", "source", sources[0].Name)
	img, err := dev.Transfer(xctx, sources[0])
	if res, stop := checkpoint(ctx, msgCanceledDuringTransfer); stop {
		return res
	}
	if err != nil {
		slog.ErrorContext(ctx, "transfer failed", "error", err)
		return model.Failure(model.FailureTransfer, "Failed to transfer image: "+err.Error())
	}

	raw, out, err := m.store.Reserve(started)
	if err == nil {
		err = m.store.WriteRaw(raw, img)
	}
	if err != nil {
		slog.ErrorContext(ctx, "saving raw image failed", "error", err)
		return model.Failure(model.FailureEncode, "Failed to save raw image: "+err.Error())
	}

	if err := m.encode(xctx, raw, out); err != nil {
		slog.ErrorContext(ctx, "encoding failed", "error", err)
		return model.Failure(model.FailureEncode, "Failed to encode image: "+err.Error())
	}
	return model.ScanResult{File: out}
}

// encode converts the raw file into out. A failed out file is removed, the
// raw file is removed unless configured otherwise.
func (m *Manager) encode(ctx context.Context, raw, out string) (err error) {
	defer func() {
		if m.keepRaw {
			return
		}
		if rerr := m.store.Remove(raw); rerr != nil {
			slog.WarnContext(ctx, "removing raw image", "file", raw, "error", rerr)
		}
	}()

	src, err := m.store.Open(raw)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := m.store.Create(out)
	if err != nil {
		return err
	}
	err = m.encoder.Encode(ctx, dst, src)
	err = errors.Join(err, dst.Close())
	if err != nil {
		if rerr := m.store.Remove(out); rerr != nil {
			slog.WarnContext(ctx, "removing partial image", "file", out, "error", rerr)
		}
	}
	return err
}

func (m *Manager) unexpected(ctx context.Context, err error) model.ScanResult {
	if res, stop := checkpoint(ctx, msgCanceledBeforeTransfer); stop {
		return res
	}
	slog.ErrorContext(ctx, "scan failed", "error", err)
	return model.Failure(model.FailureUnexpected, "Unexpected scanner error: "+err.Error())
}

// finish records the terminal result, releases the running state and
// notifies the waiters.
func (m *Manager) finish(ctx context.Context, res model.ScanResult) {
	m.mx.Lock()
	defer m.mx.Unlock()

	m.cancelRun(nil)
	m.state = model.StateCompleted
	m.result = res
	m.stopped = time.Now().UTC()

	status := m.status()
	for _, ch := range m.waits {
		ch <- status
		close(ch)
	}
	m.waits = nil

	if res.Success() {
		slog.InfoContext(ctx, "scan finished", "file", res.File, "duration", m.stopped.Sub(m.started))
	} else {
		slog.InfoContext(ctx, "scan failed", "kind", res.Kind, "error", res.Error)
	}
}

// checkpoint reports whether the job must stop, and the result to record.
func checkpoint(ctx context.Context, canceledMsg string) (model.ScanResult, bool) {
	cause := context.Cause(ctx)
	switch {
	case cause == nil:
		return model.ScanResult{}, false
	case errors.Is(cause, model.ErrScanTimeout):
		return model.Failure(model.FailureTimeout, msgTimedOut), true
	default:
		return model.Failure(model.FailureCanceled, canceledMsg), true
	}
}
