// Package api exposes the gold ledger over HTTP. Handlers decode and
// validate JSON bodies, call the vault service and map its typed errors to
// status codes.
//
// All quantities use shopspring/decimal, never float64.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/aurumvault/gold-ledger/internal/model"
	"github.com/aurumvault/gold-ledger/internal/store"
	"github.com/aurumvault/gold-ledger/internal/vault"
)

// Handler serves the ledger API.
type Handler struct {
	svc      *vault.Service
	cache    *store.SummaryCache // optional read-through cache for balances
	validate *validator.Validate
}

// NewHandler creates API handlers over svc. Pass nil for cache to read
// balances straight from the store.
func NewHandler(svc *vault.Service, cache *store.SummaryCache) *Handler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{svc: svc, cache: cache, validate: v}
}

// Routes mounts every ledger endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/deposits", h.Deposit)
	r.Post("/withdrawals", h.Withdraw)
	r.Post("/settlements", h.Settle)
	r.Post("/locks", h.Lock)
	r.Post("/unlocks", h.Unlock)
	r.Post("/transfers", h.Transfer)
	r.Post("/conversions", h.Convert)
	r.Post("/validate-spend", h.ValidateSpend)

	r.Get("/owners/{ownerID}/balance", h.GetBalance)
	r.Get("/owners/{ownerID}/ledger", h.GetLedger)
	r.Get("/owners/{ownerID}/lots", h.GetLots)
	r.Get("/owners/{ownerID}/reconcile", h.GetReconciliation)
}

// --- Request/Response types ---

// ValidateSpendRequest is the JSON body for POST /validate-spend.
type ValidateSpendRequest struct {
	OwnerID string          `json:"owner_id" validate:"required"`
	Wallet  model.Wallet    `json:"wallet" validate:"required"`
	Grams   decimal.Decimal `json:"grams"`
}

// ValidateSpendResponse reports whether a spend would pass the guard.
type ValidateSpendResponse struct {
	Valid          bool            `json:"valid"`
	AvailableGrams decimal.Decimal `json:"available_grams"`
	Reason         string          `json:"reason,omitempty"`
}

// ReconciliationResponse is returned from GET /owners/{ownerID}/reconcile.
type ReconciliationResponse struct {
	vault.Reconciliation
	Consistent bool `json:"consistent"`
}

// --- Mutations ---

// Deposit handles POST /api/v1/deposits
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req vault.DepositRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.respond(w, r, http.StatusCreated, func(ctx context.Context) (*vault.Receipt, error) {
		return h.svc.Deposit(ctx, req)
	})
}

// Withdraw handles POST /api/v1/withdrawals
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req vault.WithdrawRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.respond(w, r, http.StatusOK, func(ctx context.Context) (*vault.Receipt, error) {
		return h.svc.Withdraw(ctx, req)
	})
}

// Settle handles POST /api/v1/settlements
func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	var req vault.SettleRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.respond(w, r, http.StatusOK, func(ctx context.Context) (*vault.Receipt, error) {
		return h.svc.Settle(ctx, req)
	})
}

// Lock handles POST /api/v1/locks
func (h *Handler) Lock(w http.ResponseWriter, r *http.Request) {
	var req vault.LockRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.respond(w, r, http.StatusOK, func(ctx context.Context) (*vault.Receipt, error) {
		return h.svc.Lock(ctx, req)
	})
}

// Unlock handles POST /api/v1/unlocks
func (h *Handler) Unlock(w http.ResponseWriter, r *http.Request) {
	var req vault.LockRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.respond(w, r, http.StatusOK, func(ctx context.Context) (*vault.Receipt, error) {
		return h.svc.Unlock(ctx, req)
	})
}

// Transfer handles POST /api/v1/transfers
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req vault.TransferRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.respond(w, r, http.StatusOK, func(ctx context.Context) (*vault.Receipt, error) {
		return h.svc.Transfer(ctx, req)
	})
}

// Convert handles POST /api/v1/conversions
func (h *Handler) Convert(w http.ResponseWriter, r *http.Request) {
	var req vault.ConvertRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.respond(w, r, http.StatusOK, func(ctx context.Context) (*vault.Receipt, error) {
		return h.svc.Convert(ctx, req)
	})
}

// ValidateSpend handles POST /api/v1/validate-spend. A rejected spend is
// still a 200: the answer itself is the payload.
func (h *Handler) ValidateSpend(w http.ResponseWriter, r *http.Request) {
	var req ValidateSpendRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.ValidateSpend(r.Context(), req.OwnerID, req.Grams, req.Wallet)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ValidateSpendResponse{
		Valid:          res.Valid,
		AvailableGrams: res.AvailableGrams,
		Reason:         res.Reason(),
	})
}

// --- Queries ---

// GetBalance handles GET /api/v1/owners/{ownerID}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "ownerID")
	load := func(ctx context.Context) (model.BalanceSummary, error) {
		return h.svc.Summary(ctx, owner)
	}

	var (
		sum model.BalanceSummary
		err error
	)
	if h.cache != nil {
		sum, err = h.cache.Get(r.Context(), owner, load)
	} else {
		sum, err = load(r.Context())
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// GetLedger handles GET /api/v1/owners/{ownerID}/ledger
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.History(r.Context(), chi.URLParam(r, "ownerID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetLots handles GET /api/v1/owners/{ownerID}/lots
func (h *Handler) GetLots(w http.ResponseWriter, r *http.Request) {
	lots, err := h.svc.Lots(r.Context(), chi.URLParam(r, "ownerID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if lots == nil {
		lots = []model.Lot{}
	}
	writeJSON(w, http.StatusOK, lots)
}

// GetReconciliation handles GET /api/v1/owners/{ownerID}/reconcile
func (h *Handler) GetReconciliation(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "ownerID")
	rec, err := h.svc.Reconcile(r.Context(), owner)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !rec.Consistent() {
		slog.Error("ledger does not reproduce live balances",
			"owner", owner,
			"mismatches", len(rec.Mismatches),
			"replay_error", rec.ReplayErr,
		)
	}
	writeJSON(w, http.StatusOK, ReconciliationResponse{Reconciliation: rec, Consistent: rec.Consistent()})
}

// --- Helpers ---

// decode reads and validates a JSON body, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			writeServiceError(w, &model.ValidationError{Field: fe.Field(), Reason: "failed '" + fe.Tag() + "' check"})
			return false
		}
		writeError(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, status int, op func(context.Context) (*vault.Receipt, error)) {
	receipt, err := op(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, status, receipt)
}

// writeServiceError maps ledger errors to HTTP responses.
func writeServiceError(w http.ResponseWriter, err error) {
	var (
		ve *model.ValidationError
		ie *model.InsufficientBalanceError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": ve.Error(), "field": ve.Field})
	case errors.As(err, &ie):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":           ie.Error(),
			"wallet":          ie.Wallet,
			"bucket":          ie.Bucket,
			"requested_grams": ie.Requested,
			"available_grams": ie.Available,
		})
	case errors.Is(err, model.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case model.IsConflict(err):
		writeError(w, "concurrent update, retry later", http.StatusServiceUnavailable)
	case model.IsInvariant(err):
		writeError(w, "internal error: ledger invariant violated", http.StatusInternalServerError)
	default:
		slog.Error("request failed", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
