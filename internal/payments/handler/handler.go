// Package handler exposes the payment rail and the asset allowlist over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"cardvault/internal/payments/models"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
	"cardvault/pkg/platform/httputil"
	"cardvault/pkg/requestcontext"
)

// Service defines the payment operations the handler needs.
type Service interface {
	Debit(ctx context.Context, caller, fund domain.Address, asset domain.AssetID, amount, nonce uint64, reference string) error
	Refund(ctx context.Context, caller, fund domain.Address, asset domain.AssetID, amount, nonce uint64, reference string) error
	Settle(ctx context.Context, caller domain.Address, asset domain.AssetID, amount, nonce uint64) error
	AllowlistAdd(ctx context.Context, caller domain.Address, asset domain.AssetID, settlementAddr domain.Address, deposit uint64) error
	AllowlistRemove(ctx context.Context, caller domain.Address, asset domain.AssetID) error
	SetSettlementAddress(ctx context.Context, caller domain.Address, asset domain.AssetID, settlementAddr domain.Address) error
	SettlementAddress(ctx context.Context, asset domain.AssetID) (*models.SettlementAddress, error)
	AllowedAssets(ctx context.Context) ([]*models.SettlementAddress, error)
	SettlementNonce(ctx context.Context) (uint64, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the payment and allowlist endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Post("/payments/debit", h.HandleDebit)
	r.Post("/payments/refund", h.HandleRefund)
	r.Post("/payments/settle", h.HandleSettle)
	r.Get("/payments/settlement-nonce", h.HandleSettlementNonce)
	r.Post("/allowlist", h.HandleAllowlistAdd)
	r.Delete("/allowlist/{asset}", h.HandleAllowlistRemove)
	r.Put("/allowlist/{asset}/address", h.HandleSetSettlementAddress)
	r.Get("/allowlist", h.HandleAllowedAssets)
	r.Get("/allowlist/{asset}", h.HandleGetSettlementAddress)
}

type movementRequest struct {
	CardFund  string `json:"card_fund"`
	Asset     uint64 `json:"asset"`
	Amount    uint64 `json:"amount"`
	Nonce     uint64 `json:"nonce"`
	Reference string `json:"reference"`
}

type settleRequest struct {
	Asset  uint64 `json:"asset"`
	Amount uint64 `json:"amount"`
	Nonce  uint64 `json:"nonce"`
}

type allowlistAddRequest struct {
	Asset             uint64 `json:"asset"`
	SettlementAddress string `json:"settlement_address"`
	Deposit           uint64 `json:"deposit"`
}

type setSettlementAddressRequest struct {
	SettlementAddress string `json:"settlement_address"`
}

type settlementAddressResponse struct {
	Asset             uint64 `json:"asset"`
	SettlementAddress string `json:"settlement_address"`
	CreatedAt         int64  `json:"created_at"`
}

type nonceResponse struct {
	Nonce uint64 `json:"nonce"`
}

// HandleDebit handles POST /payments/debit.
func (h *Handler) HandleDebit(w http.ResponseWriter, r *http.Request) {
	h.handleMovement(w, r, "debit", h.service.Debit)
}

// HandleRefund handles POST /payments/refund.
func (h *Handler) HandleRefund(w http.ResponseWriter, r *http.Request) {
	h.handleMovement(w, r, "refund", h.service.Refund)
}

// handleMovement is the shared debit/refund path; the two differ only in
// direction, which the service owns.
func (h *Handler) handleMovement(
	w http.ResponseWriter,
	r *http.Request,
	operation string,
	move func(ctx context.Context, caller, fund domain.Address, asset domain.AssetID, amount, nonce uint64, reference string) error,
) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	caller, ok := httputil.RequireCaller(w, ctx)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[movementRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	fund, err := domain.ParseAddress(req.CardFund)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(dErrors.CodeInvalidInput, "invalid identifier", err))
		return
	}

	if err := move(ctx, caller, fund, domain.AssetID(req.Asset), req.Amount, req.Nonce, req.Reference); err != nil {
		h.logger.WarnContext(ctx, "payment movement failed",
			"request_id", requestID,
			"operation", operation,
			"caller", caller,
			"fund", fund,
			"nonce", req.Nonce,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "payment movement applied",
		"request_id", requestID,
		"operation", operation,
		"caller", caller,
		"fund", fund,
		"asset", req.Asset,
		"amount", req.Amount,
		"nonce", req.Nonce,
	)
	w.WriteHeader(http.StatusNoContent)
}

// HandleSettle handles POST /payments/settle.
func (h *Handler) HandleSettle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	caller, ok := httputil.RequireCaller(w, ctx)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[settleRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	if err := h.service.Settle(ctx, caller, domain.AssetID(req.Asset), req.Amount, req.Nonce); err != nil {
		h.logger.WarnContext(ctx, "settlement failed",
			"request_id", requestID,
			"caller", caller,
			"asset", req.Asset,
			"nonce", req.Nonce,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "settlement applied",
		"request_id", requestID,
		"caller", caller,
		"asset", req.Asset,
		"amount", req.Amount,
		"nonce", req.Nonce,
	)
	w.WriteHeader(http.StatusNoContent)
}

// HandleSettlementNonce handles GET /payments/settlement-nonce.
func (h *Handler) HandleSettlementNonce(w http.ResponseWriter, r *http.Request) {
	nonce, err := h.service.SettlementNonce(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, nonceResponse{Nonce: nonce})
}

// HandleAllowlistAdd handles POST /allowlist.
func (h *Handler) HandleAllowlistAdd(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	caller, ok := httputil.RequireCaller(w, ctx)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[allowlistAddRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	settlementAddr, err := domain.ParseAddress(req.SettlementAddress)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(dErrors.CodeInvalidInput, "invalid identifier", err))
		return
	}

	if err := h.service.AllowlistAdd(ctx, caller, domain.AssetID(req.Asset), settlementAddr, req.Deposit); err != nil {
		h.logger.WarnContext(ctx, "allowlist add failed",
			"request_id", requestID,
			"caller", caller,
			"asset", req.Asset,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "asset allowed",
		"request_id", requestID,
		"caller", caller,
		"asset", req.Asset,
	)
	w.WriteHeader(http.StatusCreated)
}

// HandleAllowlistRemove handles DELETE /allowlist/{asset}.
func (h *Handler) HandleAllowlistRemove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	caller, ok := httputil.RequireCaller(w, ctx)
	if !ok {
		return
	}
	asset, err := domain.ParseAssetID(chi.URLParam(r, "asset"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(dErrors.CodeInvalidInput, "invalid identifier", err))
		return
	}

	if err := h.service.AllowlistRemove(ctx, caller, asset); err != nil {
		h.logger.WarnContext(ctx, "allowlist remove failed",
			"request_id", requestID,
			"caller", caller,
			"asset", asset,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "asset removed from allowlist",
		"request_id", requestID,
		"caller", caller,
		"asset", asset,
	)
	w.WriteHeader(http.StatusNoContent)
}

// HandleSetSettlementAddress handles PUT /allowlist/{asset}/address.
func (h *Handler) HandleSetSettlementAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	caller, ok := httputil.RequireCaller(w, ctx)
	if !ok {
		return
	}
	asset, err := domain.ParseAssetID(chi.URLParam(r, "asset"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(dErrors.CodeInvalidInput, "invalid identifier", err))
		return
	}

	req, ok := httputil.DecodeAndPrepare[setSettlementAddressRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	settlementAddr, err := domain.ParseAddress(req.SettlementAddress)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(dErrors.CodeInvalidInput, "invalid identifier", err))
		return
	}

	if err := h.service.SetSettlementAddress(ctx, caller, asset, settlementAddr); err != nil {
		h.logger.WarnContext(ctx, "settlement address update failed",
			"request_id", requestID,
			"caller", caller,
			"asset", asset,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "settlement address updated",
		"request_id", requestID,
		"caller", caller,
		"asset", asset,
	)
	w.WriteHeader(http.StatusNoContent)
}

// HandleAllowedAssets handles GET /allowlist.
func (h *Handler) HandleAllowedAssets(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.AllowedAssets(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]settlementAddressResponse, 0, len(records))
	for _, record := range records {
		out = append(out, toSettlementResponse(record))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// HandleGetSettlementAddress handles GET /allowlist/{asset}.
func (h *Handler) HandleGetSettlementAddress(w http.ResponseWriter, r *http.Request) {
	asset, err := domain.ParseAssetID(chi.URLParam(r, "asset"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(dErrors.CodeInvalidInput, "invalid identifier", err))
		return
	}
	record, err := h.service.SettlementAddress(r.Context(), asset)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toSettlementResponse(record))
}

func toSettlementResponse(record *models.SettlementAddress) settlementAddressResponse {
	return settlementAddressResponse{
		Asset:             uint64(record.Asset),
		SettlementAddress: record.Address.String(),
		CreatedAt:         record.CreatedAt.Unix(),
	}
}
