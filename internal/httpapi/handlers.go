package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"pharmapos/backend/internal/apperror"
	"pharmapos/backend/internal/domain"
	"pharmapos/backend/internal/service"
)

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func itemRef(r *http.Request) (domain.ItemType, int64, error) {
	itemType := domain.ItemType(strings.ToLower(chi.URLParam(r, "type")))
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		return itemType, 0, apperror.Validation(apperror.CodeInvalidInput, "item id must be a positive integer").
			WithDetail("id", chi.URLParam(r, "id"))
	}
	return itemType, id, nil
}

func (a *API) handleListCatalog(w http.ResponseWriter, r *http.Request) {
	itemType := domain.ItemType(strings.ToLower(chi.URLParam(r, "type")))
	items, err := a.service.ListSellableItems(r.Context(), itemType)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleGetItem(w http.ResponseWriter, r *http.Request) {
	itemType, id, err := itemRef(r)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	item, err := a.service.GetItem(r.Context(), itemType, id)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": item})
}

func (a *API) handleCartQuote(w http.ResponseWriter, r *http.Request) {
	var req domain.CartQuoteRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	resp, err := a.service.QuoteCart(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSalesmen(w http.ResponseWriter, r *http.Request) {
	salesmen, err := a.service.ListSalesmen(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"salesmen": salesmen})
}

func (a *API) handleCommitSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleCommitRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}

	resp, err := a.service.CommitCart(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	status := http.StatusCreated
	if resp.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (a *API) handleSaleLookup(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.LookupSales(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleProcessReturn(w http.ResponseWriter, r *http.Request) {
	var req domain.ReturnRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	if !a.pinLimiter.Allow("pin:return:" + clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many manager pin attempts"))
		return
	}
	if !a.auth.ValidateManagerPIN(req.ManagerPIN) {
		a.writeServiceError(w, r, apperror.Forbidden("invalid manager pin"))
		return
	}

	req.SaleID = chi.URLParam(r, "id")
	if actor, ok := service.ActorFromContext(r.Context()); ok {
		req.ProcessedBy = actor.Username
	}

	resp, err := a.service.ProcessReturn(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListReturns(w http.ResponseWriter, r *http.Request) {
	returns, err := a.service.ListReturns(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"returns": returns})
}

func (a *API) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	itemType, id, err := itemRef(r)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	var req domain.StockAdjustRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	item, err := a.service.AdjustStock(r.Context(), itemType, id, req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": item})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

	logs, err := a.service.ListAuditLogs(r.Context(), date, limit)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) handleListCashiers(w http.ResponseWriter, r *http.Request) {
	cashiers, err := a.service.ListCashiers(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cashiers": cashiers})
}

func (a *API) handleCreateCashier(w http.ResponseWriter, r *http.Request) {
	var req domain.CashierCreateRequest
	if err := a.decodeAndValidate(r, &req); err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	cashier, err := a.service.CreateCashier(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"cashier": cashier})
}
