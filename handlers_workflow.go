package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"fieldscan/geo"
	"fieldscan/models"
	"fieldscan/workflow"
)

const maxUploadBytes = 50 << 20

// workflowError maps workflow sentinels to HTTP statuses.
func workflowError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, workflow.ErrBusy):
		http.Error(w, "analysis in progress", http.StatusConflict)
	case errors.Is(err, workflow.ErrNoImage):
		http.Error(w, "no image selected", http.StatusBadRequest)
	case errors.Is(err, workflow.ErrNotImage):
		http.Error(w, "file must be an image", http.StatusUnsupportedMediaType)
	case errors.Is(err, workflow.ErrInvalidLocation):
		http.Error(w, "lat must be within [-90,90] and lon within [-180,180]", http.StatusBadRequest)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		http.Error(w, "request cancelled", http.StatusGatewayTimeout)
	default:
		http.Error(w, "workflow error", http.StatusInternalServerError)
	}
}

func (a *App) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, mustSession(r).flow.Snapshot())
}

// handleSelectImage takes a multipart "file" upload as the image to analyse.
func (a *App) handleSelectImage(w http.ResponseWriter, r *http.Request) {
	s := mustSession(r)
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	f, hdr, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "multipart field \"file\" is required", http.StatusBadRequest)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		http.Error(w, "read upload", http.StatusBadRequest)
		return
	}
	if err := s.flow.Select(hdr.Filename, hdr.Header.Get("Content-Type"), data); err != nil {
		workflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.flow.Snapshot())
}

func (a *App) handleClearImage(w http.ResponseWriter, r *http.Request) {
	s := mustSession(r)
	if err := s.flow.Clear(); err != nil {
		workflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.flow.Snapshot())
}

// handleRun starts the analysis and returns immediately; clients poll the
// workflow or listen on the stream for the outcome.
func (a *App) handleRun(w http.ResponseWriter, r *http.Request) {
	s := mustSession(r)
	if err := a.startRun(s); err != nil {
		workflowError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.flow.Snapshot())
}

func (a *App) handleSetLocation(w http.ResponseWriter, r *http.Request) {
	s := mustSession(r)
	var req locationReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Lat == nil || req.Lon == nil {
		http.Error(w, "lat and lon are required", http.StatusBadRequest)
		return
	}
	if err := s.flow.SetLocation(models.Coordinates{Lat: *req.Lat, Lon: *req.Lon}); err != nil {
		workflowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.flow.Snapshot())
}

// handleLocate tries an IP based lookup. It always answers 200: a failed
// lookup just leaves the coordinates as they were.
func (a *App) handleLocate(w http.ResponseWriter, r *http.Request) {
	s := mustSession(r)
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	s.flow.Locate(ctx, geo.IPLocator{BaseURL: a.cfg.GeoIPURL, IP: geo.ClientIP(r), HTTP: a.geoHTTP})
	writeJSON(w, http.StatusOK, s.flow.Snapshot())
}

// handleCapture simulates a satellite capture at the given (or held)
// coordinates and, with autoStart, analyses it right away.
func (a *App) handleCapture(w http.ResponseWriter, r *http.Request) {
	s := mustSession(r)
	var req captureReq
	// An empty body captures at the held coordinates.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	c := s.flow.Location()
	if req.Lat != nil {
		c.Lat = *req.Lat
	}
	if req.Lon != nil {
		c.Lon = *req.Lon
	}

	res, err := s.flow.Capture(r.Context(), c)
	if err != nil {
		workflowError(w, err)
		return
	}
	if req.AutoStart {
		if err := a.startRun(s); err != nil {
			workflowError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, captureResp{Result: res, Workflow: s.flow.Snapshot()})
}
