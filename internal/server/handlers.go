package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/alimogh/trdk/internal/domain"
	"github.com/alimogh/trdk/internal/position"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if domain.IsConfigError(err) || domain.IsStateViolation(err) {
		status = http.StatusBadRequest
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// handleHealth serves GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleState serves GET /api/state. When the client passes its last
// seen revision and nothing changed since, only the revision is
// returned; otherwise the full snapshot is sent.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	current := s.engine.Revision()
	if raw := r.URL.Query().Get("revision"); raw != "" {
		seen, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid revision"})
			return
		}
		if seen == current {
			s.writeJSON(w, http.StatusOK, map[string]interface{}{
				"revision": current,
				"changed":  false,
			})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"revision": current,
		"changed":  true,
		"state":    s.engine.State(),
	})
}

type openPositionRequest struct {
	Strategy string `json:"strategy"`
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Qty      int64  `json:"qty"`
}

// handleOpenPosition serves POST /api/positions/open.
func (s *Server) handleOpenPosition(w http.ResponseWriter, r *http.Request) {
	var req openPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	var side domain.PositionSide
	switch req.Side {
	case "long":
		side = domain.Long
	case "short":
		side = domain.Short
	default:
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "side must be long or short"})
		return
	}
	if req.Qty <= 0 {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "qty must be positive"})
		return
	}

	if err := s.engine.OpenPosition(req.Strategy, req.Symbol, side, domain.Qty(req.Qty)); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type closePositionRequest struct {
	Strategy   string `json:"strategy"`
	PositionID string `json:"position_id"`
}

// handleClosePosition serves POST /api/positions/close.
func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	var req closePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if err := s.engine.ClosePosition(req.Strategy, req.PositionID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCloseAll serves POST /api/positions/close-all.
func (s *Server) handleCloseAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.CloseAll()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"closed": n,
	})
}

type addStrategyRequest struct {
	Name   string            `json:"name"`
	Class  string            `json:"class"`
	Params map[string]string `json:"params"`
}

// handleAddStrategy serves POST /api/strategies.
func (s *Server) handleAddStrategy(w http.ResponseWriter, r *http.Request) {
	var req addStrategyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Name == "" || req.Class == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name and class are required"})
		return
	}

	if err := s.engine.AddStrategy(req.Class, req.Name, req.Params); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRemoveStrategy serves DELETE /api/strategies/{name}. Removal is
// refused while the strategy still holds active positions.
func (s *Server) handleRemoveStrategy(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.engine.RemoveStrategy(name); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleArchivedPositions serves GET /api/archive/positions.
func (s *Server) handleArchivedPositions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}

	strategy := r.URL.Query().Get("strategy")
	var (
		snapshots []position.Snapshot
		err       error
	)
	if strategy != "" {
		snapshots, err = s.archive.ByStrategy(strategy, limit)
	} else {
		snapshots, err = s.archive.Recent(limit)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	if snapshots == nil {
		snapshots = []position.Snapshot{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"positions": snapshots})
}
