package handler_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardvault/internal/payments/handler"
	"cardvault/internal/payments/models"
	"cardvault/pkg/domain"
	dErrors "cardvault/pkg/domain-errors"
	"cardvault/pkg/testutil"
)

type stubService struct {
	debit             func(ctx context.Context, caller, fund domain.Address, asset domain.AssetID, amount, nonce uint64, reference string) error
	refund            func(ctx context.Context, caller, fund domain.Address, asset domain.AssetID, amount, nonce uint64, reference string) error
	settle            func(ctx context.Context, caller domain.Address, asset domain.AssetID, amount, nonce uint64) error
	allowlistAdd      func(ctx context.Context, caller domain.Address, asset domain.AssetID, settlementAddr domain.Address, deposit uint64) error
	allowlistRemove   func(ctx context.Context, caller domain.Address, asset domain.AssetID) error
	setSettlementAddr func(ctx context.Context, caller domain.Address, asset domain.AssetID, settlementAddr domain.Address) error
	settlementAddr    func(ctx context.Context, asset domain.AssetID) (*models.SettlementAddress, error)
	allowedAssets     func(ctx context.Context) ([]*models.SettlementAddress, error)
	settlementNonce   func(ctx context.Context) (uint64, error)
}

func (s *stubService) Debit(ctx context.Context, caller, fund domain.Address, asset domain.AssetID, amount, nonce uint64, reference string) error {
	return s.debit(ctx, caller, fund, asset, amount, nonce, reference)
}
func (s *stubService) Refund(ctx context.Context, caller, fund domain.Address, asset domain.AssetID, amount, nonce uint64, reference string) error {
	return s.refund(ctx, caller, fund, asset, amount, nonce, reference)
}
func (s *stubService) Settle(ctx context.Context, caller domain.Address, asset domain.AssetID, amount, nonce uint64) error {
	return s.settle(ctx, caller, asset, amount, nonce)
}
func (s *stubService) AllowlistAdd(ctx context.Context, caller domain.Address, asset domain.AssetID, settlementAddr domain.Address, deposit uint64) error {
	return s.allowlistAdd(ctx, caller, asset, settlementAddr, deposit)
}
func (s *stubService) AllowlistRemove(ctx context.Context, caller domain.Address, asset domain.AssetID) error {
	return s.allowlistRemove(ctx, caller, asset)
}
func (s *stubService) SetSettlementAddress(ctx context.Context, caller domain.Address, asset domain.AssetID, settlementAddr domain.Address) error {
	return s.setSettlementAddr(ctx, caller, asset, settlementAddr)
}
func (s *stubService) SettlementAddress(ctx context.Context, asset domain.AssetID) (*models.SettlementAddress, error) {
	return s.settlementAddr(ctx, asset)
}
func (s *stubService) AllowedAssets(ctx context.Context) ([]*models.SettlementAddress, error) {
	return s.allowedAssets(ctx)
}
func (s *stubService) SettlementNonce(ctx context.Context) (uint64, error) {
	return s.settlementNonce(ctx)
}

func newRouter(service *stubService) http.Handler {
	h := handler.New(service, slog.New(slog.NewTextHandler(io.Discard, nil)))
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

func TestHandleDebit(t *testing.T) {
	settler := mustAddress(t)
	fund := mustAddress(t)

	movement := map[string]any{
		"card_fund": fund.String(), "asset": 7, "amount": 1_000, "nonce": 1, "reference": "tx-9",
	}

	t.Run("applied", func(t *testing.T) {
		router := newRouter(&stubService{
			debit: func(_ context.Context, caller, gotFund domain.Address, asset domain.AssetID, amount, nonce uint64, reference string) error {
				assert.Equal(t, settler, caller)
				assert.Equal(t, fund, gotFund)
				assert.Equal(t, domain.AssetID(7), asset)
				assert.Equal(t, uint64(1_000), amount)
				assert.Equal(t, uint64(1), nonce)
				assert.Equal(t, "tx-9", reference)
				return nil
			},
		})
		req := testutil.NewJSONRequest(t, http.MethodPost, "/payments/debit", movement)
		rr := testutil.DoRequest(router, testutil.WithCaller(req, settler))
		testutil.AssertStatus(t, rr, http.StatusNoContent)
	})

	t.Run("replayed nonce maps to 409", func(t *testing.T) {
		router := newRouter(&stubService{
			debit: func(context.Context, domain.Address, domain.Address, domain.AssetID, uint64, uint64, string) error {
				return dErrors.New(dErrors.CodeSequence, "NONCE_INVALID")
			},
		})
		req := testutil.NewJSONRequest(t, http.MethodPost, "/payments/debit", movement)
		rr := testutil.DoRequest(router, testutil.WithCaller(req, settler))
		testutil.AssertStatusAndError(t, rr, http.StatusConflict, "sequence")
	})

	t.Run("anonymous", func(t *testing.T) {
		router := newRouter(&stubService{})
		req := testutil.NewJSONRequest(t, http.MethodPost, "/payments/debit", movement)
		rr := testutil.DoRequest(router, req)
		testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "unauthorized")
	})

	t.Run("bad fund address", func(t *testing.T) {
		router := newRouter(&stubService{})
		req := testutil.NewJSONRequest(t, http.MethodPost, "/payments/debit", map[string]any{
			"card_fund": "nope", "asset": 7, "amount": 1, "nonce": 1,
		})
		rr := testutil.DoRequest(router, testutil.WithCaller(req, settler))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "invalid_input")
	})
}

func TestHandleRefund(t *testing.T) {
	settler := mustAddress(t)
	fund := mustAddress(t)

	router := newRouter(&stubService{
		refund: func(_ context.Context, _, _ domain.Address, _ domain.AssetID, amount, nonce uint64, _ string) error {
			assert.Equal(t, uint64(500), amount)
			assert.Equal(t, uint64(2), nonce)
			return nil
		},
	})
	req := testutil.NewJSONRequest(t, http.MethodPost, "/payments/refund", map[string]any{
		"card_fund": fund.String(), "asset": 7, "amount": 500, "nonce": 2,
	})
	rr := testutil.DoRequest(router, testutil.WithCaller(req, settler))
	testutil.AssertStatus(t, rr, http.StatusNoContent)
}

func TestHandleSettle(t *testing.T) {
	settler := mustAddress(t)

	t.Run("applied", func(t *testing.T) {
		router := newRouter(&stubService{
			settle: func(_ context.Context, caller domain.Address, asset domain.AssetID, amount, nonce uint64) error {
				assert.Equal(t, settler, caller)
				assert.Equal(t, domain.AssetID(7), asset)
				assert.Equal(t, uint64(10_000), amount)
				assert.Equal(t, uint64(1), nonce)
				return nil
			},
		})
		req := testutil.NewJSONRequest(t, http.MethodPost, "/payments/settle", map[string]any{
			"asset": 7, "amount": 10_000, "nonce": 1,
		})
		rr := testutil.DoRequest(router, testutil.WithCaller(req, settler))
		testutil.AssertStatus(t, rr, http.StatusNoContent)
	})

	t.Run("non-settler", func(t *testing.T) {
		router := newRouter(&stubService{
			settle: func(context.Context, domain.Address, domain.AssetID, uint64, uint64) error {
				return dErrors.New(dErrors.CodeUnauthorized, "SENDER_NOT_ALLOWED")
			},
		})
		req := testutil.NewJSONRequest(t, http.MethodPost, "/payments/settle", map[string]any{
			"asset": 7, "amount": 10_000, "nonce": 1,
		})
		rr := testutil.DoRequest(router, testutil.WithCaller(req, settler))
		testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "unauthorized")
	})
}

func TestHandleSettlementNonce(t *testing.T) {
	router := newRouter(&stubService{
		settlementNonce: func(context.Context) (uint64, error) { return 41, nil },
	})
	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/payments/settlement-nonce"))
	testutil.AssertStatus(t, rr, http.StatusOK)
	resp := testutil.UnmarshalResponse[map[string]uint64](t, rr)
	assert.Equal(t, uint64(41), (*resp)["nonce"])
}

func TestHandleAllowlist(t *testing.T) {
	owner := mustAddress(t)
	settlementAddr := mustAddress(t)
	record := &models.SettlementAddress{
		Asset:     7,
		Address:   settlementAddr,
		CreatedAt: time.Unix(1_700_000_000, 0),
	}

	t.Run("add", func(t *testing.T) {
		router := newRouter(&stubService{
			allowlistAdd: func(_ context.Context, caller domain.Address, asset domain.AssetID, addr domain.Address, deposit uint64) error {
				assert.Equal(t, owner, caller)
				assert.Equal(t, domain.AssetID(7), asset)
				assert.Equal(t, settlementAddr, addr)
				assert.Equal(t, uint64(19_300), deposit)
				return nil
			},
		})
		req := testutil.NewJSONRequest(t, http.MethodPost, "/allowlist", map[string]any{
			"asset": 7, "settlement_address": settlementAddr.String(), "deposit": 19_300,
		})
		rr := testutil.DoRequest(router, testutil.WithCaller(req, owner))
		testutil.AssertStatus(t, rr, http.StatusCreated)
	})

	t.Run("add duplicate conflicts", func(t *testing.T) {
		router := newRouter(&stubService{
			allowlistAdd: func(context.Context, domain.Address, domain.AssetID, domain.Address, uint64) error {
				return dErrors.New(dErrors.CodeConflict, "ASSET_ALREADY_ALLOWED")
			},
		})
		req := testutil.NewJSONRequest(t, http.MethodPost, "/allowlist", map[string]any{
			"asset": 7, "settlement_address": settlementAddr.String(), "deposit": 19_300,
		})
		rr := testutil.DoRequest(router, testutil.WithCaller(req, owner))
		testutil.AssertStatusAndError(t, rr, http.StatusConflict, "conflict")
	})

	t.Run("remove", func(t *testing.T) {
		router := newRouter(&stubService{
			allowlistRemove: func(_ context.Context, _ domain.Address, asset domain.AssetID) error {
				assert.Equal(t, domain.AssetID(7), asset)
				return nil
			},
		})
		req := testutil.NewRequest(t, http.MethodDelete, "/allowlist/7")
		rr := testutil.DoRequest(router, testutil.WithCaller(req, owner))
		testutil.AssertStatus(t, rr, http.StatusNoContent)
	})

	t.Run("remove with a bad asset id", func(t *testing.T) {
		router := newRouter(&stubService{})
		req := testutil.NewRequest(t, http.MethodDelete, "/allowlist/seven")
		rr := testutil.DoRequest(router, testutil.WithCaller(req, owner))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "invalid_input")
	})

	t.Run("update settlement address", func(t *testing.T) {
		router := newRouter(&stubService{
			setSettlementAddr: func(_ context.Context, _ domain.Address, asset domain.AssetID, addr domain.Address) error {
				assert.Equal(t, domain.AssetID(7), asset)
				assert.Equal(t, settlementAddr, addr)
				return nil
			},
		})
		req := testutil.NewJSONRequest(t, http.MethodPut, "/allowlist/7/address", map[string]any{
			"settlement_address": settlementAddr.String(),
		})
		rr := testutil.DoRequest(router, testutil.WithCaller(req, owner))
		testutil.AssertStatus(t, rr, http.StatusNoContent)
	})

	t.Run("list", func(t *testing.T) {
		router := newRouter(&stubService{
			allowedAssets: func(context.Context) ([]*models.SettlementAddress, error) {
				return []*models.SettlementAddress{record}, nil
			},
		})
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/allowlist"))
		testutil.AssertStatus(t, rr, http.StatusOK)
		resp := testutil.UnmarshalResponse[[]map[string]any](t, rr)
		require.Len(t, *resp, 1)
		assert.Equal(t, float64(7), (*resp)[0]["asset"])
		assert.Equal(t, settlementAddr.String(), (*resp)[0]["settlement_address"])
	})

	t.Run("get single asset", func(t *testing.T) {
		router := newRouter(&stubService{
			settlementAddr: func(_ context.Context, asset domain.AssetID) (*models.SettlementAddress, error) {
				if asset != 7 {
					return nil, dErrors.New(dErrors.CodeNotFound, "ASSET_NOT_ALLOWED")
				}
				return record, nil
			},
		})
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/allowlist/7"))
		testutil.AssertStatus(t, rr, http.StatusOK)

		rr = testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/allowlist/8"))
		testutil.AssertStatusAndError(t, rr, http.StatusNotFound, "not_found")
	})
}
