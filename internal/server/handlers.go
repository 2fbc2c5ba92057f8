package server

import (
	"context"
	"io"
	"net/http"

	"github.com/hpungsan/roam/internal/errors"
	"github.com/hpungsan/roam/internal/orchestrator"
	"github.com/hpungsan/roam/internal/worker"
)

// StatusResponse is the body of GET /__roam/status.
type StatusResponse struct {
	Sync    orchestrator.State        `json:"sync"`
	Worker  worker.State              `json:"worker"`
	Storage orchestrator.StorageStats `json:"storage"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, StatusResponse{
		Sync:    s.orch.State(),
		Worker:  s.worker.State(),
		Storage: s.orch.GetStorageStats(r.Context()),
	})
}

// ConnectivityRequest is the body of POST /__roam/connectivity.
type ConnectivityRequest struct {
	Online  *bool  `json:"online"`
	Quality string `json:"quality,omitempty"`
}

func (s *Server) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	var req ConnectivityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		renderError(w, err)
		return
	}
	if req.Online == nil {
		renderError(w, errors.NewInvalidRequest("online is required"))
		return
	}
	s.orch.SetConnectivity(*req.Online, req.Quality)
	renderJSON(w, http.StatusOK, s.orch.State())
}

// SyncRequest is the body of POST /__roam/sync. With a tag the worker's
// background sync runs; without one the orchestrator syncs everything.
type SyncRequest struct {
	Tag string `json:"tag,omitempty"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := decodeJSON(w, r, &req); err != nil {
		renderError(w, err)
		return
	}

	if req.Tag != "" {
		select {
		case out := <-s.worker.DispatchSync(req.Tag):
			if out.Err != nil {
				renderError(w, out.Err)
				return
			}
			renderJSON(w, http.StatusOK, out.Report)
		case <-r.Context().Done():
			// The client left; the sync carries on in the worker.
		}
		return
	}

	// A disconnecting client must not abort the drain halfway.
	res, err := s.orch.SyncPendingData(context.WithoutCancel(r.Context()))
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, res)
}

func (s *Server) handleWorkerMessage(w http.ResponseWriter, r *http.Request) {
	var msg worker.Message
	if err := decodeJSON(w, r, &msg); err != nil {
		renderError(w, err)
		return
	}
	res, err := s.worker.HandleMessage(r.Context(), msg)
	if err != nil {
		renderError(w, err)
		return
	}
	renderJSON(w, http.StatusOK, res)
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxControlBody))
	if err != nil {
		renderError(w, errors.NewInvalidRequest("unreadable push payload"))
		return
	}
	n := s.worker.HandlePush(payload)
	renderJSON(w, http.StatusAccepted, n)
}

// ClickRequest is the body of POST /__roam/notifications/click.
type ClickRequest struct {
	Action string `json:"action"`
}

// ClickResponse tells the client whether to open a route.
type ClickResponse struct {
	Open  bool   `json:"open"`
	Route string `json:"route,omitempty"`
}

func (s *Server) handleNotificationClick(w http.ResponseWriter, r *http.Request) {
	var req ClickRequest
	if err := decodeJSON(w, r, &req); err != nil {
		renderError(w, err)
		return
	}
	route, open := s.worker.HandleNotificationClick(req.Action)
	renderJSON(w, http.StatusOK, ClickResponse{Open: open, Route: route})
}
