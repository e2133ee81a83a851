// Package handler exposes both withdrawal protocols over HTTP: the
// permissionless time-locked path and the signature-approved fast path.
package handler

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"cardvault/internal/withdrawal/models"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
	"cardvault/pkg/platform/httputil"
	"cardvault/pkg/requestcontext"
)

// Service defines the withdrawal operations the handler needs.
type Service interface {
	Request(ctx context.Context, caller, fund domain.Address, asset domain.AssetID, amount uint64) error
	Cancel(ctx context.Context, caller, fund domain.Address) error
	Execute(ctx context.Context, caller, fund domain.Address, amount uint64) error
	ExecuteApproved(ctx context.Context, caller, fund domain.Address, asset domain.AssetID, amount uint64, expiresAt time.Time, nonce uint64, signature []byte) error
	GetRequest(ctx context.Context, owner, fund domain.Address) (*models.WithdrawalRequest, error)
	RequestsForOwner(ctx context.Context, owner domain.Address) ([]*models.WithdrawalRequest, error)
	WaitTime() time.Duration
	SetWaitTime(ctx context.Context, caller domain.Address, waitTime time.Duration) error
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the withdrawal endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Post("/withdrawals/requests", h.HandleRequest)
	r.Delete("/withdrawals/requests/{fund}", h.HandleCancel)
	r.Get("/withdrawals/requests/{fund}", h.HandleGetRequest)
	r.Get("/withdrawals/requests", h.HandleRequestsForOwner)
	r.Post("/withdrawals/execute", h.HandleExecute)
	r.Post("/withdrawals/execute-approved", h.HandleExecuteApproved)
	r.Get("/withdrawals/wait-time", h.HandleWaitTime)
	r.Put("/withdrawals/wait-time", h.HandleSetWaitTime)
}

type withdrawalRequestBody struct {
	CardFund string `json:"card_fund"`
	Asset    uint64 `json:"asset"`
	Amount   uint64 `json:"amount"`
}

type executeRequest struct {
	CardFund string `json:"card_fund"`
	Amount   uint64 `json:"amount"`
}

type executeApprovedRequest struct {
	CardFund  string `json:"card_fund"`
	Asset     uint64 `json:"asset"`
	Amount    uint64 `json:"amount"`
	ExpiresAt int64  `json:"expires_at"`
	Nonce     uint64 `json:"nonce"`
	Signature string `json:"signature"`
}

type waitTimeBody struct {
	WaitTimeSeconds int64 `json:"wait_time_seconds"`
}

type requestResponse struct {
	Owner     string `json:"owner"`
	CardFund  string `json:"card_fund"`
	Asset     uint64 `json:"asset"`
	Amount    uint64 `json:"amount"`
	Nonce     uint64 `json:"nonce"`
	CreatedAt int64  `json:"created_at"`
}

// HandleRequest handles POST /withdrawals/requests.
func (h *Handler) HandleRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	caller, ok := httputil.RequireCaller(w, ctx)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[withdrawalRequestBody](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	fund, err := domain.ParseAddress(req.CardFund)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(dErrors.CodeInvalidInput, "invalid identifier", err))
		return
	}

	if err := h.service.Request(ctx, caller, fund, domain.AssetID(req.Asset), req.Amount); err != nil {
		h.logger.WarnContext(ctx, "withdrawal request failed",
			"request_id", requestID,
			"caller", caller,
			"fund", fund,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "withdrawal requested",
		"request_id", requestID,
		"caller", caller,
		"fund", fund,
		"asset", req.Asset,
		"amount", req.Amount,
	)
	w.WriteHeader(http.StatusCreated)
}

// HandleCancel handles DELETE /withdrawals/requests/{fund}.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	caller, ok := httputil.RequireCaller(w, ctx)
	if !ok {
		return
	}
	fund, err := domain.ParseAddress(chi.URLParam(r, "fund"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(dErrors.CodeInvalidInput, "invalid identifier", err))
		return
	}

	if err := h.service.Cancel(ctx, caller, fund); err != nil {
		h.logger.WarnContext(ctx, "withdrawal cancel failed",
			"request_id", requestID,
			"caller", caller,
			"fund", fund,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "withdrawal cancelled",
		"request_id", requestID,
		"caller", caller,
		"fund", fund,
	)
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetRequest handles GET /withdrawals/requests/{fund}. The caller can
// only see their own pending request.
func (h *Handler) HandleGetRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := httputil.RequireCaller(w, ctx)
	if !ok {
		return
	}
	fund, err := domain.ParseAddress(chi.URLParam(r, "fund"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(dErrors.CodeInvalidInput, "invalid identifier", err))
		return
	}
	request, err := h.service.GetRequest(ctx, caller, fund)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRequestResponse(request))
}

// HandleRequestsForOwner handles GET /withdrawals/requests.
func (h *Handler) HandleRequestsForOwner(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := httputil.RequireCaller(w, ctx)
	if !ok {
		return
	}
	requests, err := h.service.RequestsForOwner(ctx, caller)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]requestResponse, 0, len(requests))
	for _, request := range requests {
		out = append(out, toRequestResponse(request))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// HandleExecute handles POST /withdrawals/execute.
func (h *Handler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	caller, ok := httputil.RequireCaller(w, ctx)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[executeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	fund, err := domain.ParseAddress(req.CardFund)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(dErrors.CodeInvalidInput, "invalid identifier", err))
		return
	}

	if err := h.service.Execute(ctx, caller, fund, req.Amount); err != nil {
		h.logger.WarnContext(ctx, "withdrawal execution failed",
			"request_id", requestID,
			"caller", caller,
			"fund", fund,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "withdrawal executed",
		"request_id", requestID,
		"caller", caller,
		"fund", fund,
		"amount", req.Amount,
	)
	w.WriteHeader(http.StatusNoContent)
}

// HandleExecuteApproved handles POST /withdrawals/execute-approved.
func (h *Handler) HandleExecuteApproved(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	caller, ok := httputil.RequireCaller(w, ctx)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[executeApprovedRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	fund, err := domain.ParseAddress(req.CardFund)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(dErrors.CodeInvalidInput, "invalid identifier", err))
		return
	}
	signature, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "signature must be base64"))
		return
	}

	err = h.service.ExecuteApproved(ctx, caller, fund, domain.AssetID(req.Asset), req.Amount, time.Unix(req.ExpiresAt, 0), req.Nonce, signature)
	if err != nil {
		h.logger.WarnContext(ctx, "approved withdrawal failed",
			"request_id", requestID,
			"caller", caller,
			"fund", fund,
			"nonce", req.Nonce,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "approved withdrawal executed",
		"request_id", requestID,
		"caller", caller,
		"fund", fund,
		"asset", req.Asset,
		"amount", req.Amount,
		"nonce", req.Nonce,
	)
	w.WriteHeader(http.StatusNoContent)
}

// HandleWaitTime handles GET /withdrawals/wait-time.
func (h *Handler) HandleWaitTime(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, waitTimeBody{
		WaitTimeSeconds: int64(h.service.WaitTime().Seconds()),
	})
}

// HandleSetWaitTime handles PUT /withdrawals/wait-time.
func (h *Handler) HandleSetWaitTime(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	caller, ok := httputil.RequireCaller(w, ctx)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[waitTimeBody](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if req.WaitTimeSeconds < 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "wait time must not be negative"))
		return
	}

	waitTime := time.Duration(req.WaitTimeSeconds) * time.Second
	if err := h.service.SetWaitTime(ctx, caller, waitTime); err != nil {
		h.logger.WarnContext(ctx, "wait time update failed",
			"request_id", requestID,
			"caller", caller,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "withdrawal wait time updated",
		"request_id", requestID,
		"caller", caller,
		"wait_time", waitTime,
	)
	w.WriteHeader(http.StatusNoContent)
}

func toRequestResponse(request *models.WithdrawalRequest) requestResponse {
	return requestResponse{
		Owner:     request.Owner.String(),
		CardFund:  request.CardFund.String(),
		Asset:     uint64(request.Asset),
		Amount:    request.Amount,
		Nonce:     request.Nonce,
		CreatedAt: request.CreatedAt.Unix(),
	}
}
