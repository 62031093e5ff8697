package server

import (
	"math/rand"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/perfscope/perfscope/internal/cover"
	"github.com/perfscope/perfscope/internal/search"
	"github.com/perfscope/perfscope/internal/store"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.GetStats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "internal")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Detection runs

func (s *Server) handleSaveRun(w http.ResponseWriter, r *http.Request) {
	var run store.Run
	if err := decodeJSON(r, &run); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error(), "invalid_request")
		return
	}
	if run.TestName == "" || run.NewRevision == "" {
		writeError(w, http.StatusBadRequest, "test_name and new_revision are required", "invalid_request")
		return
	}
	if err := s.db.SaveRun(&run); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "internal")
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.db.ListRuns(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "internal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs, "count": len(runs)})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.db.GetRun(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error(), "not_found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	if err := s.db.DeleteRun(chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusNotFound, err.Error(), "not_found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleSearchRuns(w http.ResponseWriter, r *http.Request) {
	var filter search.Filter
	if err := decodeJSON(r, &filter); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error(), "invalid_request")
		return
	}
	result, err := s.db.SearchRuns(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "internal")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Alert history and test selection

type insertAlertsRequest struct {
	Alerts []struct {
		SummaryID string `json:"summary_id"`
		Suite     string `json:"suite"`
	} `json:"alerts"`
}

func (s *Server) handleInsertAlerts(w http.ResponseWriter, r *http.Request) {
	var req insertAlertsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error(), "invalid_request")
		return
	}
	records := make([]cover.Record, 0, len(req.Alerts))
	for _, a := range req.Alerts {
		if a.SummaryID == "" || a.Suite == "" {
			writeError(w, http.StatusBadRequest, "summary_id and suite are required", "invalid_request")
			return
		}
		records = append(records, cover.Record{SummaryID: a.SummaryID, Suite: a.Suite})
	}
	inserted, err := s.db.InsertAlerts(records)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "internal")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"inserted": inserted})
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	records, err := s.db.ListAlerts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "internal")
		return
	}
	out := make([]map[string]string, 0, len(records))
	for _, rec := range records {
		out = append(out, map[string]string{"summary_id": rec.SummaryID, "suite": rec.Suite})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"alerts": out, "count": len(out)})
}

func (s *Server) handleMinimize(w http.ResponseWriter, r *http.Request) {
	records, err := s.db.ListAlerts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "internal")
		return
	}
	iterations, _ := strconv.Atoi(r.URL.Query().Get("iterations"))
	if iterations <= 0 {
		iterations = cover.DefaultIterations
	}
	var rng *rand.Rand
	if seed := r.URL.Query().Get("seed"); seed != "" {
		n, err := strconv.ParseInt(seed, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid seed", "invalid_request")
			return
		}
		rng = rand.New(rand.NewSource(n))
	}
	result, err := cover.Minimize(records, iterations, rng)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_request")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleBreakdown(w http.ResponseWriter, r *http.Request) {
	records, err := s.db.ListAlerts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "internal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"suites": cover.Breakdown(records)})
}

// Summary snapshots

func (s *Server) handleSaveSnapshot(w http.ResponseWriter, r *http.Request) {
	var snap store.Snapshot
	if err := decodeJSON(r, &snap); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error(), "invalid_request")
		return
	}
	if snap.Platform == "" || snap.Pageload == "" {
		writeError(w, http.StatusBadRequest, "platform and pageload are required", "invalid_request")
		return
	}
	if err := s.db.SaveSnapshot(&snap); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "internal")
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	snaps, err := s.db.ListSnapshots(r.URL.Query().Get("platform"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "internal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"snapshots": snaps, "count": len(snaps)})
}
