package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/CZERTAINLY/scand/internal/device"
	"github.com/CZERTAINLY/scand/internal/model"
)

const (
	msgInProgress        = "Scan already in progress."
	msgStarted           = "Scan started in background."
	msgShuttingDown      = "Scanner service is shutting down."
	msgCancelRequested   = "Scan cancellation requested."
	msgFileNotFound      = "File not found."
	msgDevicesFailed     = "Failed to list devices."
	msgInternalFileError = "Failed to read file."
)

// response is the common body of the scan endpoints.
type response struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
	File     string `json:"file,omitempty"`
	JobID    string `json:"job_id,omitempty"`
	Canceled bool   `json:"canceled,omitempty"`
}

// statusResponse is returned while a job runs and before the first one.
type statusResponse struct {
	Status string `json:"status"`
	JobID  string `json:"job_id,omitempty"`
}

type devicesResponse struct {
	Devices []device.Info `json:"devices"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, statusResponse{Status: "ok"})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := s.manager.Start(ctx)
	switch {
	case errors.Is(err, model.ErrScanInProgress):
		writeJSON(ctx, w, http.StatusBadRequest, response{Error: msgInProgress})
	case errors.Is(err, model.ErrShutdown):
		writeJSON(ctx, w, http.StatusServiceUnavailable, response{Error: msgShuttingDown})
	case err != nil:
		slog.ErrorContext(ctx, "starting scan", "error", err)
		writeJSON(ctx, w, http.StatusInternalServerError, response{Error: err.Error()})
	default:
		writeJSON(ctx, w, http.StatusOK, response{Success: true, Message: msgStarted, JobID: id})
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := s.manager.Status()
	switch status.State {
	case model.StateRunning:
		writeJSON(ctx, w, http.StatusOK, statusResponse{Status: status.State.String(), JobID: status.JobID})
	case model.StateCompleted:
		res := status.Result
		writeJSON(ctx, w, http.StatusOK, response{
			Success:  res.Success(),
			File:     res.File,
			Error:    res.Error,
			JobID:    status.JobID,
			Canceled: res.Canceled(),
		})
	default:
		writeJSON(ctx, w, http.StatusOK, statusResponse{Status: model.StateIdle.String()})
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s.manager.Cancel(ctx)
	writeJSON(ctx, w, http.StatusOK, response{Success: true, Message: msgCancelRequested})
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	infos, err := s.devices.Devices(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "listing devices", "error", err)
		writeJSON(ctx, w, http.StatusInternalServerError, response{Error: msgDevicesFailed})
		return
	}
	if infos == nil {
		infos = []device.Info{}
	}
	writeJSON(ctx, w, http.StatusOK, devicesResponse{Devices: infos})
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "filename")

	f, err := s.files.Open(name)
	if errors.Is(err, model.ErrFileNotFound) || errors.Is(err, model.ErrInvalidFileName) {
		slog.DebugContext(ctx, "file not served", "file", name, "error", err)
		writeJSON(ctx, w, http.StatusNotFound, response{Error: msgFileNotFound})
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "opening file", "file", name, "error", err)
		writeJSON(ctx, w, http.StatusInternalServerError, response{Error: msgInternalFileError})
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		slog.ErrorContext(ctx, "stat file", "file", name, "error", err)
		writeJSON(ctx, w, http.StatusInternalServerError, response{Error: msgInternalFileError})
		return
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
