// Package httpx exposes the scan job lifecycle over REST.
package httpx

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/target/mmk-scan-api/internal/domain/model"
	apperrors "github.com/target/mmk-scan-api/internal/errors"
	"github.com/target/mmk-scan-api/internal/service"
)

// IdempotencyKeyHeader carries the optional client-chosen trigger deduplication key.
const IdempotencyKeyHeader = "Idempotency-Key"

// ScanHandlers provides HTTP handlers for scan job operations.
type ScanHandlers struct {
	Svc    *service.ScanJobService
	errors errorResponder
}

// TriggerScan handles POST /scan/trigger.
func (h *ScanHandlers) TriggerScan(w http.ResponseWriter, r *http.Request) {
	var req model.TriggerScanRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	req.IdempotencyKey = strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))

	res, err := h.Svc.TriggerScan(r.Context(), req)
	if err != nil {
		h.errors.write(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, res)
}

// Callback handles POST /scan/callback from the runner.
func (h *ScanHandlers) Callback(w http.ResponseWriter, r *http.Request) {
	var req model.CallbackRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	if err := h.Svc.HandleCallback(r.Context(), req); err != nil {
		h.errors.write(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// GetStatus handles GET /scan/status/{id}.
func (h *ScanHandlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	job, err := h.Svc.GetStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		h.errors.write(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// ListScans handles GET /scan/jobs?limit&offset&status&scanKind&where.
func (h *ScanHandlers) ListScans(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListScansQuery(r)
	if err != nil {
		h.errors.write(w, r, err)
		return
	}

	page, err := h.Svc.ListScans(r.Context(), opts)
	if err != nil {
		h.errors.write(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, page)
}

// GetLog handles GET /scan/jobs/{id}/log.
func (h *ScanHandlers) GetLog(w http.ResponseWriter, r *http.Request) {
	log, err := h.Svc.GetLog(r.Context(), r.PathValue("id"))
	if err != nil {
		h.errors.write(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, log); err != nil {
		return
	}
}

func parseListScansQuery(r *http.Request) (service.ListScansOptions, error) {
	q := r.URL.Query()
	var opts service.ListScansOptions

	var err error
	if opts.Limit, err = parseIntParam(q.Get("limit"), "limit"); err != nil {
		return opts, err
	}
	if opts.Offset, err = parseIntParam(q.Get("offset"), "offset"); err != nil {
		return opts, err
	}
	if v := strings.TrimSpace(q.Get("status")); v != "" {
		status := model.ScanStatus(strings.ToLower(v))
		opts.Status = &status
	}
	if v := strings.TrimSpace(q.Get("scanKind")); v != "" {
		kind, err := model.ParseScanKind(v)
		if err != nil {
			return opts, apperrors.ValidationField("scanKind", "scanKind must be one of: SAST, FOSS, DAST")
		}
		opts.ScanKind = &kind
	}
	opts.Where = q.Get("where")
	return opts, nil
}

func parseIntParam(raw, field string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.ValidationField(field, field+" must be an integer")
	}
	return n, nil
}
