package api

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"catalog-specs-service/internal/domain"
	"catalog-specs-service/internal/filterimport"
	"catalog-specs-service/internal/store"
)

// maxImportBody bounds filter import uploads.
const maxImportBody = 32 << 20

// ServiceName is reported by the health check.
const ServiceName = "CatalogSpecsService"

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// HTTPHandler exposes the Service over chi.
type HTTPHandler struct {
	svc    *Service
	logger *zap.Logger
	checks map[string]HealthCheck
}

// NewHTTPHandler creates a new HTTPHandler.
func NewHTTPHandler(svc *Service) *HTTPHandler {
	return &HTTPHandler{svc: svc, logger: svc.logger.Named("http"), checks: make(map[string]HealthCheck)}
}

// AddHealthCheck reports the result of check under name in /api/v1/healthz.
func (h *HTTPHandler) AddHealthCheck(name string, check HealthCheck) {
	h.checks[name] = check
}

// --- Helpers ---

// ErrorResponse defines the structure for JSON error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// PaginationInfo describes one page of a listing.
type PaginationInfo struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, ErrorResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			zap.L().Error("failed to encode JSON response", zap.Error(err))
		}
	}
}

// fail logs err and writes the status its class maps to. Server errors hide the detail.
func (h *HTTPHandler) fail(w http.ResponseWriter, r *http.Request, err error, message string) {
	code, _ := classify(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error(message, zap.String("path", r.URL.Path), zap.Error(err))
		respondWithError(w, code, message)
		return
	}
	h.logger.Debug(message, zap.String("path", r.URL.Path), zap.Error(err))
	if code == http.StatusBadRequest {
		respondWithError(w, code, "Validation failed: "+err.Error())
		return
	}
	respondWithError(w, code, err.Error())
}

func idParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return id, nil
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// --- Specs match ---

// StartSpecsMatchRun handles POST /api/v1/specs-match/runs.
func (h *HTTPHandler) StartSpecsMatchRun(w http.ResponseWriter, r *http.Request) {
	input := NewStartRunRequest()
	if err := decodeJSON(r, &input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}

	accepted, err := h.svc.StartSpecsMatch(r.Context(), input)
	if err != nil {
		h.fail(w, r, err, "Failed to start specs match run")
		return
	}
	respondWithJSON(w, http.StatusAccepted, accepted)
}

// Suggestions handles POST /api/v1/specs-match/suggestions.
func (h *HTTPHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	var input SuggestionsRequest
	if err := decodeJSON(r, &input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}

	suggestions, err := h.svc.Suggestions(r.Context(), input)
	if err != nil {
		h.fail(w, r, err, "Failed to build suggestions")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"data": suggestions})
}

// Decisions handles POST /api/v1/specs-match/decisions.
func (h *HTTPHandler) Decisions(w http.ResponseWriter, r *http.Request) {
	var input DecisionsRequest
	if err := decodeJSON(r, &input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}

	result, err := h.svc.Decisions(r.Context(), input)
	if err != nil {
		h.fail(w, r, err, "Failed to resolve attribute decisions")
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// --- Import runs ---

// GetImportRun handles GET /api/v1/import-runs/{runId}.
func (h *HTTPHandler) GetImportRun(w http.ResponseWriter, r *http.Request) {
	runID, err := idParam(r, "runId")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid run ID format")
		return
	}

	run, err := h.svc.Run(r.Context(), runID)
	if err != nil {
		h.fail(w, r, err, "Failed to retrieve import run")
		return
	}
	respondWithJSON(w, http.StatusOK, run)
}

// ListImportIssues handles GET /api/v1/import-runs/{runId}/issues.
func (h *HTTPHandler) ListImportIssues(w http.ResponseWriter, r *http.Request) {
	runID, err := idParam(r, "runId")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid run ID format")
		return
	}

	q := r.URL.Query()
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	page, err := strconv.Atoi(q.Get("page"))
	if err != nil || page <= 0 {
		page = 1
	}

	params := store.ListIssuesParams{RunID: runID, Limit: limit, Offset: (page - 1) * limit}
	if sev := q.Get("severity"); sev != "" {
		severity := domain.Severity(strings.ToLower(sev))
		switch severity {
		case domain.SeverityInfo, domain.SeverityWarning, domain.SeverityError:
			params.Severity = &severity
		default:
			respondWithError(w, http.StatusBadRequest, "Invalid severity: "+sev)
			return
		}
	}
	if c := q.Get("code"); c != "" {
		code := domain.IssueCode(c)
		params.Code = &code
	}

	issues, total, err := h.svc.Issues(r.Context(), params)
	if err != nil {
		h.fail(w, r, err, "Failed to retrieve import issues")
		return
	}

	totalPages := 0
	if total > 0 {
		totalPages = (total + limit - 1) / limit
	}
	if issues == nil {
		issues = []domain.ImportIssue{}
	}
	respondWithJSON(w, http.StatusOK, struct {
		Data       []domain.ImportIssue `json:"data"`
		Pagination PaginationInfo       `json:"pagination"`
	}{
		Data:       issues,
		Pagination: PaginationInfo{Page: page, Limit: limit, TotalItems: total, TotalPages: totalPages},
	})
}

// --- Category filters ---

// ExportFilters handles GET /api/v1/categories/{categoryId}/filters/export.
// ?format=csv returns the template as a CSV attachment.
func (h *HTTPHandler) ExportFilters(w http.ResponseWriter, r *http.Request) {
	categoryID, err := idParam(r, "categoryId")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid category ID format")
		return
	}

	tpl, err := h.svc.Export(r.Context(), categoryID)
	if err != nil {
		h.fail(w, r, err, "Failed to export category filters")
		return
	}

	if strings.EqualFold(r.URL.Query().Get("format"), "csv") {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="category-%d-filters.csv"`, categoryID))
		w.WriteHeader(http.StatusOK)
		if err := filterimport.WriteCSV(w, tpl); err != nil {
			h.logger.Error("failed to write CSV export", zap.Int64("category_id", categoryID), zap.Error(err))
		}
		return
	}
	respondWithJSON(w, http.StatusOK, tpl)
}

// ImportFilters handles POST /api/v1/categories/{categoryId}/filters/import.
// A text/csv body carries the rows and the query string carries the options.
func (h *HTTPHandler) ImportFilters(w http.ResponseWriter, r *http.Request) {
	categoryID, err := idParam(r, "categoryId")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid category ID format")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBody)

	var input FilterImportRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "text/csv" {
		defer r.Body.Close()
		input.Rows, err = filterimport.ReadCSV(r.Body)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid CSV payload: "+err.Error())
			return
		}
		input.Options, err = importOptionsFromQuery(r)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid query: "+err.Error())
			return
		}
	} else if err := decodeJSON(r, &input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return
	}

	accepted, err := h.svc.StartFilterImport(r.Context(), categoryID, input)
	if err != nil {
		h.fail(w, r, err, "Failed to start filter import")
		return
	}
	respondWithJSON(w, http.StatusAccepted, accepted)
}

func importOptionsFromQuery(r *http.Request) (filterimport.ImportOptions, error) {
	q := r.URL.Query()
	opts := filterimport.ImportOptions{NumberConflictStrategy: q.Get("number_conflict_strategy")}
	for name, dst := range map[string]*bool{"dry_run": &opts.DryRun, "auto_create_options": &opts.AutoCreateOptions} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return opts, fmt.Errorf("invalid %s flag %q", name, raw)
		}
		*dst = v
	}
	return opts, nil
}

// Healthz handles GET /api/v1/healthz. It always answers 200; the payload
// carries the state of each registered dependency.
func (h *HTTPHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	payload := map[string]string{
		"status":      "healthy",
		"serviceName": ServiceName,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	}
	for name, check := range h.checks {
		payload[name] = "healthy"
		if err := check(ctx); err != nil {
			payload[name] = "unhealthy"
			h.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
		}
	}
	respondWithJSON(w, http.StatusOK, payload)
}

// RegisterRoutes sets up the HTTP routes for the service.
func (h *HTTPHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/v1/healthz", h.Healthz)

	r.Route("/api/v1/specs-match", func(r chi.Router) {
		r.Post("/runs", h.StartSpecsMatchRun)
		r.Post("/suggestions", h.Suggestions)
		r.Post("/decisions", h.Decisions)
	})

	r.Route("/api/v1/import-runs/{runId}", func(r chi.Router) {
		r.Get("/", h.GetImportRun)
		r.Get("/issues", h.ListImportIssues)
	})

	r.Route("/api/v1/categories/{categoryId}/filters", func(r chi.Router) {
		r.Get("/export", h.ExportFilters)
		r.Post("/import", h.ImportFilters)
	})
}
