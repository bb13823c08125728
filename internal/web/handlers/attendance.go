package handlers

import (
	"net/http"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/recognition"
)

// AttendanceHandler serves the recognition snapshot and the ledger views.
type AttendanceHandler struct {
	ledger    attendance.Ledger
	state     *recognition.State
	summaries *gocache.Cache
	now       func() time.Time
	logger    *zap.Logger

	// generation counts invalidations; a summary queried across one is
	// served but not cached
	mu         sync.Mutex
	generation uint64
}

// NewAttendanceHandler creates an attendance handler. state may be nil when
// no recognition loop runs in this process.
func NewAttendanceHandler(ledger attendance.Ledger, state *recognition.State, logger *zap.Logger) *AttendanceHandler {
	if state == nil {
		state = recognition.NewState(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttendanceHandler{
		ledger:    ledger,
		state:     state,
		summaries: gocache.New(constants.SummaryCacheTTL, 2*constants.SummaryCacheTTL),
		now:       time.Now,
		logger:    logger,
	}
}

// Status returns the latest recognition snapshot.
func (h *AttendanceHandler) Status(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.state.Latest())
}

// Summary returns the present/late counts for a day. Responses are cached
// briefly because dashboards poll this endpoint.
func (h *AttendanceHandler) Summary(w http.ResponseWriter, r *http.Request) {
	date, ok := dateParam(r, h.now())
	if !ok {
		respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	if cached, found := h.summaries.Get(date); found {
		respondJSON(w, http.StatusOK, cached)
		return
	}

	h.mu.Lock()
	generation := h.generation
	h.mu.Unlock()

	summary, err := h.ledger.Summary(r.Context(), date)
	if err != nil {
		h.logger.Error("summary query failed", zap.String("date", sanitizeForLog(date)), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load summary")
		return
	}

	h.mu.Lock()
	if h.generation == generation {
		h.summaries.SetDefault(date, summary)
	}
	h.mu.Unlock()
	respondJSON(w, http.StatusOK, summary)
}

// Log returns the records of a day, newest first.
func (h *AttendanceHandler) Log(w http.ResponseWriter, r *http.Request) {
	date, ok := dateParam(r, h.now())
	if !ok {
		respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	records, err := h.ledger.List(r.Context(), date)
	if err != nil {
		h.logger.Error("log query failed", zap.String("date", sanitizeForLog(date)), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load attendance log")
		return
	}
	if records == nil {
		records = []attendance.Record{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"date":    date,
		"records": records,
	})
}

// InvalidateSummary drops the cached summary of date, so that a new mark is
// visible without waiting for the cache to expire.
func (h *AttendanceHandler) InvalidateSummary(date string) {
	h.mu.Lock()
	h.generation++
	h.summaries.Delete(date)
	h.mu.Unlock()
}
