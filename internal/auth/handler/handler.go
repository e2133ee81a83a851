// Package handler exposes the challenge-response authentication endpoints.
// These are the only public mutating routes; everything else needs a token.
package handler

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"cardvault/internal/auth/models"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
	"cardvault/pkg/platform/httputil"
	"cardvault/pkg/requestcontext"
)

// Service defines the auth operations the handler needs.
type Service interface {
	NewChallenge(ctx context.Context, address domain.Address) (*models.Challenge, error)
	Redeem(ctx context.Context, address domain.Address, signature []byte) (token string, expiresIn time.Duration, err error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the auth endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Post("/auth/challenge", h.HandleChallenge)
	r.Post("/auth/token", h.HandleToken)
}

type challengeRequest struct {
	Address string `json:"address"`
}

type challengeResponse struct {
	Challenge string `json:"challenge"` // base64 nonce to sign
	ExpiresAt int64  `json:"expires_at"`
}

type tokenRequest struct {
	Address   string `json:"address"`
	Signature string `json:"signature"` // base64 ed25519 signature over the nonce
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// HandleChallenge handles POST /auth/challenge.
func (h *Handler) HandleChallenge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[challengeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	address, err := domain.ParseAddress(req.Address)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(dErrors.CodeInvalidInput, "invalid address", err))
		return
	}

	challenge, err := h.service.NewChallenge(ctx, address)
	if err != nil {
		h.logger.WarnContext(ctx, "challenge issuance failed",
			"request_id", requestID,
			"address", address,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, challengeResponse{
		Challenge: base64.StdEncoding.EncodeToString(challenge.Nonce),
		ExpiresAt: challenge.ExpiresAt.Unix(),
	})
}

// HandleToken handles POST /auth/token.
func (h *Handler) HandleToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[tokenRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	address, err := domain.ParseAddress(req.Address)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(dErrors.CodeInvalidInput, "invalid address", err))
		return
	}
	signature, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "signature must be base64"))
		return
	}

	token, expiresIn, err := h.service.Redeem(ctx, address, signature)
	if err != nil {
		h.logger.WarnContext(ctx, "token issuance failed",
			"request_id", requestID,
			"address", address,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "token issued",
		"request_id", requestID,
		"address", address,
	)
	httputil.WriteJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(expiresIn.Seconds()),
	})
}
