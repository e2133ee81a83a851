// Package handler exposes the registry over HTTP: the two-phase channel and
// fund lifecycle plus the read endpoints.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"cardvault/internal/registry/models"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
	"cardvault/pkg/platform/httputil"
	"cardvault/pkg/requestcontext"
)

// Service defines the registry operations the handler needs.
type Service interface {
	InitiateChannel(ctx context.Context, caller domain.Address, deposit uint64, name string) (domain.Address, error)
	FinalizeChannel(ctx context.Context, caller domain.Address, deposit uint64, address domain.Address) error
	CloseChannel(ctx context.Context, caller, address domain.Address) error
	InitiateFund(ctx context.Context, caller domain.Address, deposit uint64, channel domain.Address, asset domain.AssetID, reference string) (domain.Address, error)
	FinalizeFund(ctx context.Context, caller domain.Address, deposit uint64, address domain.Address) error
	CloseFund(ctx context.Context, caller, address domain.Address) error
	GetChannel(ctx context.Context, address domain.Address) (*models.PartnerChannel, error)
	GetFund(ctx context.Context, address domain.Address) (*models.CardFund, error)
	FundForOwner(ctx context.Context, channel, owner domain.Address) (*models.CardFund, error)
	Counts(ctx context.Context) (channels, funds uint64, err error)
	Decommission(ctx context.Context, caller domain.Address) error
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the registry endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Post("/registry/channels", h.HandleInitiateChannel)
	r.Post("/registry/channels/finalize", h.HandleFinalizeChannel)
	r.Delete("/registry/channels/{address}", h.HandleCloseChannel)
	r.Get("/registry/channels/{address}", h.HandleGetChannel)
	r.Post("/registry/funds", h.HandleInitiateFund)
	r.Post("/registry/funds/finalize", h.HandleFinalizeFund)
	r.Delete("/registry/funds/{address}", h.HandleCloseFund)
	r.Get("/registry/funds/{address}", h.HandleGetFund)
	r.Get("/registry/funds", h.HandleFundForOwner)
	r.Get("/registry/counts", h.HandleCounts)
	r.Post("/registry/decommission", h.HandleDecommission)
}

type initiateChannelRequest struct {
	Deposit uint64 `json:"deposit"`
	Name    string `json:"name"`
}

type finalizeRequest struct {
	Deposit uint64 `json:"deposit"`
	Address string `json:"address"`
}

type initiateFundRequest struct {
	Deposit        uint64 `json:"deposit"`
	PartnerChannel string `json:"partner_channel"`
	Asset          uint64 `json:"asset"`
	Reference      string `json:"reference"`
}

type addressResponse struct {
	Address string `json:"address"`
}

type channelResponse struct {
	Address   string `json:"address"`
	Name      string `json:"name"`
	Owner     string `json:"owner"`
	CreatedAt int64  `json:"created_at"`
}

type fundResponse struct {
	Address         string `json:"address"`
	Owner           string `json:"owner"`
	PartnerChannel  string `json:"partner_channel"`
	PaymentNonce    uint64 `json:"payment_nonce"`
	WithdrawalNonce uint64 `json:"withdrawal_nonce"`
	Reference       string `json:"reference,omitempty"`
	CreatedAt       int64  `json:"created_at"`
}

type countsResponse struct {
	PartnerChannels uint64 `json:"partner_channels"`
	CardFunds       uint64 `json:"card_funds"`
}

// HandleInitiateChannel handles POST /registry/channels.
func (h *Handler) HandleInitiateChannel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	caller, ok := httputil.RequireCaller(w, ctx)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[initiateChannelRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	address, err := h.service.InitiateChannel(ctx, caller, req.Deposit, req.Name)
	if err != nil {
		h.logger.WarnContext(ctx, "channel initiation failed",
			"request_id", requestID,
			"caller", caller,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "channel initiated",
		"request_id", requestID,
		"caller", caller,
		"channel", address,
	)
	httputil.WriteJSON(w, http.StatusCreated, addressResponse{Address: address.String()})
}

// HandleFinalizeChannel handles POST /registry/channels/finalize.
func (h *Handler) HandleFinalizeChannel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	caller, ok := httputil.RequireCaller(w, ctx)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[finalizeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	address, err := domain.ParseAddress(req.Address)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(dErrors.CodeInvalidInput, "invalid identifier", err))
		return
	}

	if err := h.service.FinalizeChannel(ctx, caller, req.Deposit, address); err != nil {
		h.logger.WarnContext(ctx, "channel finalization failed",
			"request_id", requestID,
			"caller", caller,
			"channel", address,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "channel finalized",
		"request_id", requestID,
		"caller", caller,
		"channel", address,
	)
	httputil.WriteJSON(w, http.StatusOK, addressResponse{Address: address.String()})
}

// HandleCloseChannel handles DELETE /registry/channels/{address}.
func (h *Handler) HandleCloseChannel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	caller, ok := httputil.RequireCaller(w, ctx)
	if !ok {
		return
	}
	address, err := domain.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(dErrors.CodeInvalidInput, "invalid identifier", err))
		return
	}

	if err := h.service.CloseChannel(ctx, caller, address); err != nil {
		h.logger.WarnContext(ctx, "channel close failed",
			"request_id", requestID,
			"caller", caller,
			"channel", address,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "channel closed",
		"request_id", requestID,
		"caller", caller,
		"channel", address,
	)
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetChannel handles GET /registry/channels/{address}.
func (h *Handler) HandleGetChannel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	address, err := domain.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(dErrors.CodeInvalidInput, "invalid identifier", err))
		return
	}
	channel, err := h.service.GetChannel(ctx, address)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, channelResponse{
		Address:   channel.Address.String(),
		Name:      channel.Name,
		Owner:     channel.Owner.String(),
		CreatedAt: channel.CreatedAt.Unix(),
	})
}

// HandleInitiateFund handles POST /registry/funds.
func (h *Handler) HandleInitiateFund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	caller, ok := httputil.RequireCaller(w, ctx)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[initiateFundRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	channel, err := domain.ParseAddress(req.PartnerChannel)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(dErrors.CodeInvalidInput, "invalid identifier", err))
		return
	}

	address, err := h.service.InitiateFund(ctx, caller, req.Deposit, channel, domain.AssetID(req.Asset), req.Reference)
	if err != nil {
		h.logger.WarnContext(ctx, "fund initiation failed",
			"request_id", requestID,
			"caller", caller,
			"channel", channel,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "fund initiated",
		"request_id", requestID,
		"caller", caller,
		"fund", address,
	)
	httputil.WriteJSON(w, http.StatusCreated, addressResponse{Address: address.String()})
}

// HandleFinalizeFund handles POST /registry/funds/finalize.
func (h *Handler) HandleFinalizeFund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	caller, ok := httputil.RequireCaller(w, ctx)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[finalizeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	address, err := domain.ParseAddress(req.Address)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(dErrors.CodeInvalidInput, "invalid identifier", err))
		return
	}

	if err := h.service.FinalizeFund(ctx, caller, req.Deposit, address); err != nil {
		h.logger.WarnContext(ctx, "fund finalization failed",
			"request_id", requestID,
			"caller", caller,
			"fund", address,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "fund finalized",
		"request_id", requestID,
		"caller", caller,
		"fund", address,
	)
	httputil.WriteJSON(w, http.StatusOK, addressResponse{Address: address.String()})
}

// HandleCloseFund handles DELETE /registry/funds/{address}.
func (h *Handler) HandleCloseFund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	caller, ok := httputil.RequireCaller(w, ctx)
	if !ok {
		return
	}
	address, err := domain.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(dErrors.CodeInvalidInput, "invalid identifier", err))
		return
	}

	if err := h.service.CloseFund(ctx, caller, address); err != nil {
		h.logger.WarnContext(ctx, "fund close failed",
			"request_id", requestID,
			"caller", caller,
			"fund", address,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "fund closed",
		"request_id", requestID,
		"caller", caller,
		"fund", address,
	)
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetFund handles GET /registry/funds/{address}.
func (h *Handler) HandleGetFund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	address, err := domain.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(dErrors.CodeInvalidInput, "invalid identifier", err))
		return
	}
	fund, err := h.service.GetFund(ctx, address)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toFundResponse(fund))
}

// HandleFundForOwner handles GET /registry/funds?channel=...&owner=...
func (h *Handler) HandleFundForOwner(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	channel, err := domain.ParseAddress(r.URL.Query().Get("channel"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "channel query parameter is required"))
		return
	}
	owner, err := domain.ParseAddress(r.URL.Query().Get("owner"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "owner query parameter is required"))
		return
	}
	fund, err := h.service.FundForOwner(ctx, channel, owner)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toFundResponse(fund))
}

// HandleCounts handles GET /registry/counts.
func (h *Handler) HandleCounts(w http.ResponseWriter, r *http.Request) {
	channels, funds, err := h.service.Counts(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, countsResponse{PartnerChannels: channels, CardFunds: funds})
}

// HandleDecommission handles POST /registry/decommission.
func (h *Handler) HandleDecommission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	caller, ok := httputil.RequireCaller(w, ctx)
	if !ok {
		return
	}

	if err := h.service.Decommission(ctx, caller); err != nil {
		h.logger.WarnContext(ctx, "decommission refused",
			"request_id", requestID,
			"caller", caller,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "system decommissioned",
		"request_id", requestID,
		"caller", caller,
	)
	w.WriteHeader(http.StatusNoContent)
}

func toFundResponse(fund *models.CardFund) fundResponse {
	return fundResponse{
		Address:         fund.Address.String(),
		Owner:           fund.Owner.String(),
		PartnerChannel:  fund.PartnerChannel.String(),
		PaymentNonce:    fund.PaymentNonce,
		WithdrawalNonce: fund.WithdrawalNonce,
		Reference:       fund.Reference,
		CreatedAt:       fund.CreatedAt.Unix(),
	}
}
