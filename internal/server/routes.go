package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lazypower/autodj/internal/library"
	"github.com/lazypower/autodj/internal/logger"
	"github.com/lazypower/autodj/internal/model"
	"github.com/lazypower/autodj/internal/session"
	"github.com/lazypower/autodj/internal/store"
)

type libraryTrack struct {
	model.TrackMetadata
	MediaURL string `json:"media_url"`
}

// mediaURL escapes every reserved character, with spaces as %20.
func mediaURL(trackID string) string {
	return "/media?track_id=" + strings.ReplaceAll(url.QueryEscape(trackID), "+", "%20")
}

func (s *Server) handleLibrary(w http.ResponseWriter, r *http.Request) {
	tracks := s.session.Library()
	out := make([]libraryTrack, len(tracks))
	for i, t := range tracks {
		out[i] = libraryTrack{TrackMetadata: t, MediaURL: mediaURL(t.TrackID)}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tracks": out})
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("track_id")
	if id == "" {
		writeError(w, http.StatusUnprocessableEntity, "track_id required")
		return
	}
	track, ok := s.session.FindTrack(id)
	if !ok {
		writeError(w, http.StatusNotFound, "track not found in scanned library")
		return
	}
	info, err := os.Stat(track.TrackID)
	if err != nil || !info.Mode().IsRegular() {
		writeError(w, http.StatusNotFound, "track file missing: "+track.TrackID)
		return
	}
	http.ServeFile(w, r, track.TrackID)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("path")
	if target == "" {
		target = s.opts.MusicDir
	}

	start := time.Now()
	tracks, err := s.scanner.Scan(r.Context(), target)
	if errors.Is(err, library.ErrNotDirectory) {
		writeError(w, http.StatusNotFound, "music directory not found: "+target)
		return
	}
	if err != nil {
		s.log.Error(r.Context(), "library scan failed", logger.String("path", target), logger.Err(err))
		writeError(w, http.StatusInternalServerError, "scan failed")
		return
	}
	s.metrics.RecordScanDuration(float64(time.Since(start).Milliseconds()))

	s.session.SetLibrary(tracks)
	s.metrics.SetLibraryTracks(len(tracks))

	abs, err := filepath.Abs(target)
	if err != nil {
		abs = target
	}
	writeJSON(w, http.StatusOK, model.ScanResult{ScannedPath: abs, TracksFound: len(tracks)})
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	st, err := s.session.Start(r.Context())
	if errors.Is(err, session.ErrNotEnoughTracks) {
		writeError(w, http.StatusConflict, "need at least 2 tracks, run /library/scan with your music directory first")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Stop(r.Context()))
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Snapshot())
}

// optionalString tells an absent field from an explicit null.
type optionalString struct {
	Set   bool
	Null  bool
	Value string
}

func (o *optionalString) UnmarshalJSON(b []byte) error {
	o.Set = true
	if string(b) == "null" {
		o.Null = true
		return nil
	}
	return json.Unmarshal(b, &o.Value)
}

// feedbackRequest uses pointers so absent fields can be told apart from empty ones.
type feedbackRequest struct {
	Label          *model.Label   `json:"label"`
	DecisionMode   *string        `json:"decision_mode"`
	TrackA         *string        `json:"track_a"`
	TrackB         *string        `json:"track_b"`
	TransitionType *string        `json:"transition_type"`
	ContextBucket  optionalString `json:"context_bucket"`
}

func (req feedbackRequest) event() (model.FeedbackEvent, string) {
	switch {
	case req.Label == nil:
		return model.FeedbackEvent{}, "label required"
	case req.DecisionMode == nil:
		return model.FeedbackEvent{}, "decision_mode required"
	case req.TransitionType == nil:
		return model.FeedbackEvent{}, "transition_type required"
	case req.ContextBucket.Null:
		return model.FeedbackEvent{}, "context_bucket must be a string"
	}
	ev := model.FeedbackEvent{
		Label:          *req.Label,
		DecisionMode:   *req.DecisionMode,
		TrackA:         req.TrackA,
		TrackB:         req.TrackB,
		TransitionType: *req.TransitionType,
		ContextBucket:  req.ContextBucket.Value,
	}
	return ev, ""
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if errors.Is(err, model.ErrInvalidLabel) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	ev, problem := req.event()
	if problem != "" {
		writeError(w, http.StatusUnprocessableEntity, problem)
		return
	}

	if !s.session.Running() {
		writeError(w, http.StatusConflict, "session is not running")
		return
	}

	err := s.db.ApplyFeedback(r.Context(), ev)
	if errors.Is(err, model.ErrInvalidLabel) {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err != nil {
		s.storeFailed(r.Context(), w, "apply_feedback", err)
		return
	}
	s.metrics.RecordFeedback(string(ev.Label))

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleScores(w http.ResponseWriter, r *http.Request) {
	limit := store.DefaultTopLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "limit must be an integer")
			return
		}
		limit = n
	}

	rows, err := s.db.TopRows(r.Context(), limit)
	if err != nil {
		s.storeFailed(r.Context(), w, "top_rows", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}
