package httpapi

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"regisync/backend/internal/domain"
	"regisync/backend/internal/report"
	"regisync/backend/internal/service"
)

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"shop_code": a.service.ShopCode(),
		"at":        time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a token for the X-CSRF-Token header of mutating
// requests. It stays valid for up to two hours.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

func (a *API) handleSessionOpen(w http.ResponseWriter, r *http.Request) {
	var req domain.SessionRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	session, err := a.service.OpenSession(r.Context(), strings.TrimSpace(req.Date))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.SessionResponse{Session: session})
}

func (a *API) handleSessionClose(w http.ResponseWriter, r *http.Request) {
	var req domain.SessionRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	session, err := a.service.CloseSession(r.Context(), strings.TrimSpace(req.Date))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.SessionResponse{Session: session})
}

func (a *API) handleSessionCurrent(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.CurrentSessionView(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req domain.QuoteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	resp, err := a.service.Quote(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleRecordSale(w http.ResponseWriter, r *http.Request) {
	var req domain.RecordSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	receipt, err := a.service.CompleteSale(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := a.service.QuerySales(r.Context(), service.SalesQuery{
		Date:      strings.TrimSpace(q.Get("date")),
		InputMode: domain.InputMode(strings.TrimSpace(q.Get("input_mode"))),
		Status:    domain.SaleStatus(strings.TrimSpace(q.Get("status"))),
		Limit:     parsePositiveLimit(q.Get("limit"), 200, 1000),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *API) handleSaleDetails(w http.ResponseWriter, r *http.Request) {
	details, err := a.service.QueryDetails(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"details": details})
}

// handlePrintFailed voids a sale whose receipt the client could not print.
func (a *API) handlePrintFailed(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.service.VoidSale(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"voided": id})
}

func (a *API) handleSyncRun(w http.ResponseWriter, r *http.Request) {
	res, err := a.service.RunReconciliation(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.service.SyncStatus()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (a *API) handleShadowReplay(w http.ResponseWriter, r *http.Request) {
	res, err := a.service.ReplayShadow(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleDailyReport(w http.ResponseWriter, r *http.Request) {
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))

	daily, err := a.service.DailyReport(r.Context(), date)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	var buf bytes.Buffer
	switch format {
	case "csv":
		if err := report.RenderCSV(&buf, daily); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		filename := "daily-report.csv"
		if date != "" {
			filename = fmt.Sprintf("daily-report-%s-%s.csv", daily.ShopCode, date)
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	case "", "json":
		if err := report.RenderJSON(&buf, daily); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
	default:
		writeError(w, http.StatusBadRequest, fmt.Errorf("unsupported format %q", format))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (a *API) handleInventory(w http.ResponseWriter, r *http.Request) {
	level, err := a.service.Inventory(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, level)
}

// handleInputMode switches Normal/Test. Either role may do it with the manager
// PIN.
func (a *API) handleInputMode(w http.ResponseWriter, r *http.Request) {
	var req domain.InputModeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	actor, _ := service.ActorFromContext(r.Context())
	if !a.pinLimiter.Allow("pin:" + actor.Username + ":" + clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many manager pin attempts"))
		return
	}
	if !a.auth.ValidateManagerPIN(req.ManagerPIN) {
		writeError(w, http.StatusForbidden, errors.New("invalid manager pin"))
		return
	}

	mode, err := a.service.SetInputMode(r.Context(), req.InputMode)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"input_mode": mode})
}

func (a *API) handleCredential(w http.ResponseWriter, r *http.Request) {
	var req domain.CredentialRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if err := a.service.SetCredential(r.Context(), chi.URLParam(r, "name"), req.Value); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type bulksPayload struct {
	Bulks []domain.ProductBulk `json:"bulks"`
}

type bundlesPayload struct {
	Bundles []domain.ProductBundle `json:"bundles"`
}

func (a *API) handleListBulks(w http.ResponseWriter, r *http.Request) {
	bulks, err := a.service.ListProductBulks(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bulksPayload{Bulks: bulks})
}

func (a *API) handlePutBulks(w http.ResponseWriter, r *http.Request) {
	var req bulksPayload
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	bulks, err := a.service.UpsertProductBulks(r.Context(), req.Bulks)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bulksPayload{Bulks: bulks})
}

func (a *API) handleListBundles(w http.ResponseWriter, r *http.Request) {
	bundles, err := a.service.ListProductBundles(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bundlesPayload{Bundles: bundles})
}

func (a *API) handlePutBundles(w http.ResponseWriter, r *http.Request) {
	var req bundlesPayload
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	bundles, err := a.service.UpsertProductBundles(r.Context(), req.Bundles)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bundlesPayload{Bundles: bundles})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

	logs, err := a.service.ListAuditLogs(r.Context(), date, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}
