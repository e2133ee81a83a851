// Package handler exposes the administrative surface: role management, the
// pause switch, and recovery of stray deposits on the master account.
package handler

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
	"cardvault/pkg/platform/httputil"
	"cardvault/pkg/requestcontext"
)

// Service defines the admin operations the handler needs.
type Service interface {
	Roles(ctx context.Context) (owner, settler domain.Address, paused bool)
	TransferOwnership(ctx context.Context, caller, newOwner domain.Address) error
	SetSettler(ctx context.Context, caller, settler domain.Address, key ed25519.PublicKey) error
	SetPaused(ctx context.Context, caller domain.Address, paused bool) error
}

// Recoverer moves assets mistakenly sent to the master account.
type Recoverer interface {
	Recover(ctx context.Context, caller domain.Address, asset domain.AssetID, amount uint64, to domain.Address) error
}

type Handler struct {
	service  Service
	recovery Recoverer
	logger   *slog.Logger
}

func New(service Service, recovery Recoverer, logger *slog.Logger) *Handler {
	return &Handler{service: service, recovery: recovery, logger: logger}
}

// Register mounts the admin endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Get("/admin/roles", h.HandleRoles)
	r.Post("/admin/ownership", h.HandleTransferOwnership)
	r.Post("/admin/settler", h.HandleSetSettler)
	r.Post("/admin/pause", h.HandleSetPaused)
	r.Post("/admin/recover", h.HandleRecover)
}

type rolesResponse struct {
	Owner   string `json:"owner"`
	Settler string `json:"settler,omitempty"`
	Paused  bool   `json:"paused"`
}

type transferOwnershipRequest struct {
	NewOwner string `json:"new_owner"`
}

type setSettlerRequest struct {
	Settler   string `json:"settler"`
	PublicKey string `json:"public_key"` // hex-encoded ed25519
}

type setPausedRequest struct {
	Paused bool `json:"paused"`
}

type recoverRequest struct {
	Asset  uint64 `json:"asset"`
	Amount uint64 `json:"amount"`
	To     string `json:"to"`
}

// HandleRoles handles GET /admin/roles.
func (h *Handler) HandleRoles(w http.ResponseWriter, r *http.Request) {
	owner, settler, paused := h.service.Roles(r.Context())
	httputil.WriteJSON(w, http.StatusOK, rolesResponse{
		Owner:   owner.String(),
		Settler: settler.String(),
		Paused:  paused,
	})
}

// HandleTransferOwnership handles POST /admin/ownership.
func (h *Handler) HandleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	caller, ok := httputil.RequireCaller(w, ctx)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[transferOwnershipRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	newOwner, err := domain.ParseAddress(req.NewOwner)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(dErrors.CodeInvalidInput, "invalid identifier", err))
		return
	}

	if err := h.service.TransferOwnership(ctx, caller, newOwner); err != nil {
		h.logger.WarnContext(ctx, "ownership transfer failed",
			"request_id", requestID,
			"caller", caller,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "ownership transferred",
		"request_id", requestID,
		"caller", caller,
		"new_owner", newOwner,
	)
	w.WriteHeader(http.StatusNoContent)
}

// HandleSetSettler handles POST /admin/settler.
func (h *Handler) HandleSetSettler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	caller, ok := httputil.RequireCaller(w, ctx)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[setSettlerRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	settler, err := domain.ParseAddress(req.Settler)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(dErrors.CodeInvalidInput, "invalid identifier", err))
		return
	}
	key, err := hex.DecodeString(req.PublicKey)
	if err != nil || len(key) != ed25519.PublicKeySize {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "public key must be a hex-encoded ed25519 key"))
		return
	}

	if err := h.service.SetSettler(ctx, caller, settler, ed25519.PublicKey(key)); err != nil {
		h.logger.WarnContext(ctx, "settler update failed",
			"request_id", requestID,
			"caller", caller,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "settler updated",
		"request_id", requestID,
		"caller", caller,
		"settler", settler,
	)
	w.WriteHeader(http.StatusNoContent)
}

// HandleSetPaused handles POST /admin/pause.
func (h *Handler) HandleSetPaused(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	caller, ok := httputil.RequireCaller(w, ctx)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[setPausedRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	if err := h.service.SetPaused(ctx, caller, req.Paused); err != nil {
		h.logger.WarnContext(ctx, "pause update failed",
			"request_id", requestID,
			"caller", caller,
			"paused", req.Paused,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "pause state updated",
		"request_id", requestID,
		"caller", caller,
		"paused", req.Paused,
	)
	w.WriteHeader(http.StatusNoContent)
}

// HandleRecover handles POST /admin/recover.
func (h *Handler) HandleRecover(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	caller, ok := httputil.RequireCaller(w, ctx)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[recoverRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	to, err := domain.ParseAddress(req.To)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(dErrors.CodeInvalidInput, "invalid identifier", err))
		return
	}

	if err := h.recovery.Recover(ctx, caller, domain.AssetID(req.Asset), req.Amount, to); err != nil {
		h.logger.WarnContext(ctx, "asset recovery failed",
			"request_id", requestID,
			"caller", caller,
			"asset", req.Asset,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "asset recovered",
		"request_id", requestID,
		"caller", caller,
		"asset", req.Asset,
		"amount", req.Amount,
		"to", to,
	)
	w.WriteHeader(http.StatusNoContent)
}
