// Package handler exposes the recommendation API over HTTP.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/examforge/recommender/internal/events"
	"github.com/examforge/recommender/internal/prefs"
	"github.com/examforge/recommender/internal/recommend"
	"github.com/examforge/recommender/internal/recommend/cache"
	"github.com/examforge/recommender/internal/recommend/rank"
	"github.com/examforge/recommender/internal/store"
	"github.com/examforge/recommender/pkg/config"
	"github.com/examforge/recommender/pkg/errors"
	"github.com/examforge/recommender/pkg/logger"
	"github.com/examforge/recommender/pkg/metrics"
)

// Response is the wire shape of a recommendation result page.
type Response struct {
	Kind    string `json:"kind"`
	Subject string `json:"subject"`
	Offset  int    `json:"offset"`
	Limit   int    `json:"limit"`
	Count   int    `json:"count"`
	Results any    `json:"results"`
}

// Handler serves recommendation requests and accepts activity events.
type Handler struct {
	exams     *recommend.Service[store.Exam]
	questions *recommend.Service[store.Question]
	prefs     *prefs.Store
	cache     *cache.ResultCache
	collector *events.Collector
	cfg       config.RecommenderConfig
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New creates a Handler. resultCache, collector, and m may be nil; caching,
// event publication, and instrumentation degrade gracefully without them.
func New(
	exams *recommend.Service[store.Exam],
	questions *recommend.Service[store.Question],
	prefStore *prefs.Store,
	resultCache *cache.ResultCache,
	collector *events.Collector,
	cfg config.RecommenderConfig,
	m *metrics.Metrics,
) *Handler {
	return &Handler{
		exams:     exams,
		questions: questions,
		prefs:     prefStore,
		cache:     resultCache,
		collector: collector,
		cfg:       cfg,
		metrics:   m,
		logger:    slog.Default().With("component", "recommend-handler"),
	}
}

// Register attaches all recommendation routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/exams/{id}/similar", h.SimilarExams)
	mux.HandleFunc("GET /api/v1/users/{id}/recommendations/exams", h.RecommendedExams)
	mux.HandleFunc("GET /api/v1/users/{id}/recommendations/questions", h.RecommendedQuestions)
	mux.HandleFunc("POST /api/v1/events/purchase", h.ExamPurchased)
	mux.HandleFunc("POST /api/v1/events/upvote", h.QuestionUpvoted)
	mux.HandleFunc("PUT /api/v1/users/{id}/tags", h.ReplaceDeclaredTags)
}

// SimilarExams serves exams ranked by similarity to one exam.
func (h *Handler) SimilarExams(w http.ResponseWriter, r *http.Request) {
	examID := r.PathValue("id")
	h.serveRecommendation(w, r, "similar_exam", examID, func(page rank.Page) (any, error) {
		return h.exams.SimilarTo(r.Context(), examID, page)
	})
}

// RecommendedExams serves exams ranked against a user's preference vector.
func (h *Handler) RecommendedExams(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	h.serveRecommendation(w, r, "user_exam", userID, func(page rank.Page) (any, error) {
		return h.exams.ForUser(r.Context(), userID, page)
	})
}

// RecommendedQuestions serves questions ranked against a user's preference
// vector.
func (h *Handler) RecommendedQuestions(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	h.serveRecommendation(w, r, "user_question", userID, func(page rank.Page) (any, error) {
		return h.questions.ForUser(r.Context(), userID, page)
	})
}

type purchaseRequest struct {
	UserID string `json:"user_id"`
	ExamID string `json:"exam_id"`
}

// ExamPurchased accepts a purchase notification and queues it for the
// preference pipeline. The response is 202: the signal is applied
// asynchronously by the activity consumer.
func (h *Handler) ExamPurchased(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.ExamID == "" {
		h.writeError(w, http.StatusBadRequest, "user_id and exam_id are required")
		return
	}
	h.track(w, events.Event{
		Type:      events.TypeExamPurchased,
		UserID:    req.UserID,
		EntityID:  req.ExamID,
		Timestamp: time.Now().UTC(),
	})
}

type upvoteRequest struct {
	UserID     string `json:"user_id"`
	QuestionID string `json:"question_id"`
}

// QuestionUpvoted accepts an upvote notification and queues it for the
// preference pipeline.
func (h *Handler) QuestionUpvoted(w http.ResponseWriter, r *http.Request) {
	var req upvoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.QuestionID == "" {
		h.writeError(w, http.StatusBadRequest, "user_id and question_id are required")
		return
	}
	h.track(w, events.Event{
		Type:      events.TypeQuestionUpvoted,
		UserID:    req.UserID,
		EntityID:  req.QuestionID,
		Timestamp: time.Now().UTC(),
	})
}

type declaredTagsRequest struct {
	Tags []string `json:"tags"`
}

// ReplaceDeclaredTags replaces a user's declared tag set. This is
// synchronous: the user expects their profile edit to be visible
// immediately.
func (h *Handler) ReplaceDeclaredTags(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	var req declaredTagsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Tags == nil {
		h.writeError(w, http.StatusBadRequest, "tags is required")
		return
	}
	if err := h.prefs.ReplaceDeclaredTags(r.Context(), userID, req.Tags); err != nil {
		h.handleError(w, r, err)
		return
	}
	if h.metrics != nil {
		h.metrics.PreferenceSignals.WithLabelValues("declared").Add(float64(len(req.Tags)))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) serveRecommendation(w http.ResponseWriter, r *http.Request, kind, subject string, fetch func(rank.Page) (any, error)) {
	start := time.Now()
	log := logger.FromContext(r.Context())

	page, err := h.parsePage(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	compute := func() (any, error) {
		results, err := fetch(page)
		if err != nil {
			return nil, err
		}
		return &Response{
			Kind:    kind,
			Subject: subject,
			Offset:  page.Offset,
			Limit:   page.Limit,
			Count:   resultCount(results),
			Results: results,
		}, nil
	}

	var payload []byte
	cacheHit := false
	if h.cache != nil {
		payload, cacheHit, err = h.cache.GetOrCompute(r.Context(), cache.Key{Kind: kind, Subject: subject, Page: page}, compute)
	} else {
		var resp any
		if resp, err = compute(); err == nil {
			payload, err = json.Marshal(resp)
		}
	}
	if err != nil {
		h.observe(kind, "error", cacheHit, time.Since(start))
		h.handleError(w, r, err)
		return
	}

	h.observe(kind, "ok", cacheHit, time.Since(start))
	log.Info("recommendation served",
		"kind", kind,
		"subject", subject,
		"offset", page.Offset,
		"limit", page.Limit,
		"cache_hit", cacheHit,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(payload); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

// parsePage reads offset/limit query parameters. Offset counts pages, not
// records; limit defaults from config and is capped at MaxResults.
func (h *Handler) parsePage(r *http.Request) (rank.Page, error) {
	page := rank.Page{Offset: 0, Limit: h.cfg.DefaultLimit}
	if v := r.URL.Query().Get("offset"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return rank.Page{}, errors.Newf(errors.ErrInvalidPagination, 400, "offset %q is not an integer", v)
		}
		page.Offset = parsed
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return rank.Page{}, errors.Newf(errors.ErrInvalidPagination, 400, "limit %q is not an integer", v)
		}
		page.Limit = parsed
	}
	if page.Limit > h.cfg.MaxResults {
		page.Limit = h.cfg.MaxResults
	}
	if err := page.Validate(); err != nil {
		return rank.Page{}, err
	}
	return page, nil
}

func (h *Handler) track(w http.ResponseWriter, e events.Event) {
	if h.collector == nil {
		h.writeError(w, http.StatusServiceUnavailable, "event pipeline unavailable")
		return
	}
	h.collector.Track(e)
	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatusCode(err)
	log := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		// Index inconsistencies and store failures are bugs or outages,
		// never user errors; log loudly and hide details from the client.
		log.Error("recommendation request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		h.writeError(w, status, "internal error")
		return
	}
	log.Warn("recommendation request rejected",
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"error", err,
	)
	h.writeError(w, status, err.Error())
}

func (h *Handler) observe(kind, outcome string, cacheHit bool, elapsed time.Duration) {
	if h.metrics == nil {
		return
	}
	h.metrics.RecommendationsTotal.WithLabelValues(kind, outcome).Inc()
	cacheStatus := "bypass"
	if h.cache != nil {
		cacheStatus = "miss"
		if cacheHit {
			cacheStatus = "hit"
		}
	}
	h.metrics.RecommendLatency.WithLabelValues(kind, cacheStatus).Observe(elapsed.Seconds())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func resultCount(results any) int {
	switch r := results.(type) {
	case []store.Exam:
		return len(r)
	case []store.Question:
		return len(r)
	default:
		return 0
	}
}
