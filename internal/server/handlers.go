package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/leapstack-labs/sqlineage/internal/state"
	"github.com/leapstack-labs/sqlineage/pkg/lineage"
	"github.com/starfederation/datastar-go/datastar"
)

// LineageRequest is the JSON form of a lineage request body.
type LineageRequest struct {
	SQL    string `json:"sql"`
	Source string `json:"source,omitempty"`
}

// ExtractionSummary is one entry of the history listing.
type ExtractionSummary struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	Hash        string    `json:"hash"`
	ColumnCount int       `json:"columnCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

type errorResponse struct {
	Error string `json:"error"`
}

const defaultListLimit = 50

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleLineage extracts the lineage of the posted SQL. The body is either
// raw SQL or a JSON LineageRequest.
func (s *Server) handleLineage(w http.ResponseWriter, r *http.Request) {
	req, err := s.readLineageRequest(w, r)
	if err != nil {
		status := http.StatusBadRequest
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, status, err)
		return
	}
	if strings.TrimSpace(req.SQL) == "" {
		writeError(w, http.StatusBadRequest, errors.New("sql is required"))
		return
	}
	if req.Source == "" {
		req.Source = "http"
	}

	result, err := lineage.Extract(req.SQL)
	if err != nil {
		s.notifier.Publish(Event{Source: req.Source, Error: err.Error()})
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	encoded, err := lineage.Encode(result)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if s.store != nil && s.cfg.Persist {
		e, err := s.store.SaveExtraction(r.Context(), req.Source, req.SQL, result)
		if err != nil {
			s.logger.Error("failed to save extraction", slog.String("error", err.Error()))
		} else {
			w.Header().Set("X-Extraction-Id", e.ID)
		}
	}

	s.notifier.Publish(Event{Source: req.Source, Lineage: encoded})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(encoded)
}

func (s *Server) readLineageRequest(w http.ResponseWriter, r *http.Request) (LineageRequest, error) {
	var req LineageRequest
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := datastar.ReadSignals(r, &req); err != nil {
			return req, err
		}
		return req, nil
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return req, err
	}
	req.SQL = string(body)
	req.Source = r.URL.Query().Get("source")
	return req, nil
}

func (s *Server) handleListExtractions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, errors.New("history is disabled"))
		return
	}

	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	list, err := s.store.ListExtractions(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	out := make([]ExtractionSummary, 0, len(list))
	for _, e := range list {
		out = append(out, ExtractionSummary{
			ID:          e.ID,
			Source:      e.Source,
			Hash:        e.Hash,
			ColumnCount: e.ColumnCount,
			CreatedAt:   e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleGetExtraction returns the stored lineage exactly as it was encoded.
func (s *Server) handleGetExtraction(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, errors.New("history is disabled"))
		return
	}

	e, err := s.store.GetExtraction(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, state.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Extraction-Source", e.Source)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, e.Lineage)
}

// handleEvents streams published extractions as datastar signal patches
// until the client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ch := s.notifier.Subscribe()
	defer s.notifier.Unsubscribe(ch)

	sse := datastar.NewSSE(w, r)
	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-ch:
			if err := sse.MarshalAndPatchSignals(map[string]Event{"extraction": ev}); err != nil {
				s.logger.Debug("event stream closed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
