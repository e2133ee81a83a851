package handler_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardvault/internal/admin/handler"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
	"cardvault/pkg/testutil"
)

type stubService struct {
	roles             func(ctx context.Context) (domain.Address, domain.Address, bool)
	transferOwnership func(ctx context.Context, caller, newOwner domain.Address) error
	setSettler        func(ctx context.Context, caller, settler domain.Address, key ed25519.PublicKey) error
	setPaused         func(ctx context.Context, caller domain.Address, paused bool) error
}

func (s *stubService) Roles(ctx context.Context) (domain.Address, domain.Address, bool) {
	return s.roles(ctx)
}
func (s *stubService) TransferOwnership(ctx context.Context, caller, newOwner domain.Address) error {
	return s.transferOwnership(ctx, caller, newOwner)
}
func (s *stubService) SetSettler(ctx context.Context, caller, settler domain.Address, key ed25519.PublicKey) error {
	return s.setSettler(ctx, caller, settler, key)
}
func (s *stubService) SetPaused(ctx context.Context, caller domain.Address, paused bool) error {
	return s.setPaused(ctx, caller, paused)
}

type stubRecoverer struct {
	recover func(ctx context.Context, caller domain.Address, asset domain.AssetID, amount uint64, to domain.Address) error
}

func (s *stubRecoverer) Recover(ctx context.Context, caller domain.Address, asset domain.AssetID, amount uint64, to domain.Address) error {
	return s.recover(ctx, caller, asset, amount, to)
}

func newRouter(service *stubService, recovery *stubRecoverer) http.Handler {
	h := handler.New(service, recovery, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	h.Register(r)
	return r
}

func mustAddress(t *testing.T) domain.Address {
	t.Helper()
	address, err := domain.NewAddress()
	require.NoError(t, err)
	return address
}

func TestHandleRoles(t *testing.T) {
	owner := mustAddress(t)
	settler := mustAddress(t)

	router := newRouter(&stubService{
		roles: func(context.Context) (domain.Address, domain.Address, bool) {
			return owner, settler, true
		},
	}, nil)

	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/admin/roles"))
	testutil.AssertStatus(t, rr, http.StatusOK)
	resp := testutil.UnmarshalResponse[map[string]any](t, rr)
	assert.Equal(t, owner.String(), (*resp)["owner"])
	assert.Equal(t, settler.String(), (*resp)["settler"])
	assert.Equal(t, true, (*resp)["paused"])
}

func TestHandleTransferOwnership(t *testing.T) {
	owner := mustAddress(t)
	newOwner := mustAddress(t)

	t.Run("ok", func(t *testing.T) {
		router := newRouter(&stubService{
			transferOwnership: func(_ context.Context, caller, got domain.Address) error {
				assert.Equal(t, owner, caller)
				assert.Equal(t, newOwner, got)
				return nil
			},
		}, nil)
		req := testutil.NewJSONRequest(t, http.MethodPost, "/admin/ownership", map[string]any{
			"new_owner": newOwner.String(),
		})
		rr := testutil.DoRequest(router, testutil.WithCaller(req, owner))
		testutil.AssertStatus(t, rr, http.StatusNoContent)
	})

	t.Run("non-owner", func(t *testing.T) {
		router := newRouter(&stubService{
			transferOwnership: func(context.Context, domain.Address, domain.Address) error {
				return dErrors.New(dErrors.CodeUnauthorized, "SENDER_NOT_ALLOWED")
			},
		}, nil)
		req := testutil.NewJSONRequest(t, http.MethodPost, "/admin/ownership", map[string]any{
			"new_owner": newOwner.String(),
		})
		rr := testutil.DoRequest(router, testutil.WithCaller(req, mustAddress(t)))
		testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "unauthorized")
	})

	t.Run("anonymous", func(t *testing.T) {
		router := newRouter(&stubService{}, nil)
		req := testutil.NewJSONRequest(t, http.MethodPost, "/admin/ownership", map[string]any{})
		rr := testutil.DoRequest(router, req)
		testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "unauthorized")
	})
}

func TestHandleSetSettler(t *testing.T) {
	owner := mustAddress(t)
	settler := mustAddress(t)
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	t.Run("ok", func(t *testing.T) {
		router := newRouter(&stubService{
			setSettler: func(_ context.Context, _, got domain.Address, key ed25519.PublicKey) error {
				assert.Equal(t, settler, got)
				assert.Equal(t, pub, key)
				return nil
			},
		}, nil)
		req := testutil.NewJSONRequest(t, http.MethodPost, "/admin/settler", map[string]any{
			"settler": settler.String(), "public_key": hex.EncodeToString(pub),
		})
		rr := testutil.DoRequest(router, testutil.WithCaller(req, owner))
		testutil.AssertStatus(t, rr, http.StatusNoContent)
	})

	t.Run("short key", func(t *testing.T) {
		router := newRouter(&stubService{}, nil)
		req := testutil.NewJSONRequest(t, http.MethodPost, "/admin/settler", map[string]any{
			"settler": settler.String(), "public_key": "abcd",
		})
		rr := testutil.DoRequest(router, testutil.WithCaller(req, owner))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "invalid_input")
	})

	t.Run("non-hex key", func(t *testing.T) {
		router := newRouter(&stubService{}, nil)
		req := testutil.NewJSONRequest(t, http.MethodPost, "/admin/settler", map[string]any{
			"settler": settler.String(), "public_key": "zz",
		})
		rr := testutil.DoRequest(router, testutil.WithCaller(req, owner))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "invalid_input")
	})
}

func TestHandleSetPaused(t *testing.T) {
	pauser := mustAddress(t)

	t.Run("pause", func(t *testing.T) {
		router := newRouter(&stubService{
			setPaused: func(_ context.Context, _ domain.Address, paused bool) error {
				assert.True(t, paused)
				return nil
			},
		}, nil)
		req := testutil.NewJSONRequest(t, http.MethodPost, "/admin/pause", map[string]any{"paused": true})
		rr := testutil.DoRequest(router, testutil.WithCaller(req, pauser))
		testutil.AssertStatus(t, rr, http.StatusNoContent)
	})

	t.Run("unpause by non-owner", func(t *testing.T) {
		router := newRouter(&stubService{
			setPaused: func(context.Context, domain.Address, bool) error {
				return dErrors.New(dErrors.CodeUnauthorized, "SENDER_NOT_ALLOWED")
			},
		}, nil)
		req := testutil.NewJSONRequest(t, http.MethodPost, "/admin/pause", map[string]any{"paused": false})
		rr := testutil.DoRequest(router, testutil.WithCaller(req, pauser))
		testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "unauthorized")
	})
}

func TestHandleRecover(t *testing.T) {
	owner := mustAddress(t)
	dest := mustAddress(t)

	t.Run("ok", func(t *testing.T) {
		router := newRouter(&stubService{}, &stubRecoverer{
			recover: func(_ context.Context, caller domain.Address, asset domain.AssetID, amount uint64, to domain.Address) error {
				assert.Equal(t, owner, caller)
				assert.Equal(t, domain.AssetID(7), asset)
				assert.Equal(t, uint64(2_500), amount)
				assert.Equal(t, dest, to)
				return nil
			},
		})
		req := testutil.NewJSONRequest(t, http.MethodPost, "/admin/recover", map[string]any{
			"asset": 7, "amount": 2_500, "to": dest.String(),
		})
		rr := testutil.DoRequest(router, testutil.WithCaller(req, owner))
		testutil.AssertStatus(t, rr, http.StatusNoContent)
	})

	t.Run("nothing stray to recover", func(t *testing.T) {
		router := newRouter(&stubService{}, &stubRecoverer{
			recover: func(context.Context, domain.Address, domain.AssetID, uint64, domain.Address) error {
				return dErrors.New(dErrors.CodeInvalidInput, "amount exceeds holding balance")
			},
		})
		req := testutil.NewJSONRequest(t, http.MethodPost, "/admin/recover", map[string]any{
			"asset": 7, "amount": 2_500, "to": dest.String(),
		})
		rr := testutil.DoRequest(router, testutil.WithCaller(req, owner))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "invalid_input")
	})
}
