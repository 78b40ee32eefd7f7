package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	linklockr "github.com/cynamonster/linklockr"
	"github.com/cynamonster/linklockr/catalog"
	"github.com/cynamonster/linklockr/chain"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockEngine struct {
	handlePurchase func(ctx context.Context, req linklockr.PurchaseRequest) (*linklockr.Receipt, error)
}

func (m *mockEngine) HandlePurchase(ctx context.Context, req linklockr.PurchaseRequest) (*linklockr.Receipt, error) {
	return m.handlePurchase(ctx, req)
}

type mockIndex struct {
	getLink    func(ctx context.Context, slug string) (*catalog.Link, error)
	insertLink func(ctx context.Context, link catalog.Link) error
}

func (m *mockIndex) GetLink(ctx context.Context, slug string) (*catalog.Link, error) {
	return m.getLink(ctx, slug)
}

func (m *mockIndex) InsertLink(ctx context.Context, link catalog.Link) error {
	return m.insertLink(ctx, link)
}

type mockPinner struct {
	pin   func(ctx context.Context, name string, payload interface{}) (string, error)
	fetch func(ctx context.Context, cid string, out interface{}) error
}

func (m *mockPinner) Pin(ctx context.Context, name string, payload interface{}) (string, error) {
	return m.pin(ctx, name, payload)
}

func (m *mockPinner) Fetch(ctx context.Context, cid string, out interface{}) error {
	return m.fetch(ctx, cid, out)
}

type mockBalances struct {
	balanceOf func(ctx context.Context, owner, slug string) (*big.Int, error)
}

func (m *mockBalances) BalanceOf(ctx context.Context, owner, slug string) (*big.Int, error) {
	return m.balanceOf(ctx, owner, slug)
}

const testBuyer = "0x1111111111111111111111111111111111111111"

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandleRelay(t *testing.T) {
	t.Run("broadcast success returns tx hash", func(t *testing.T) {
		engine := &mockEngine{
			handlePurchase: func(ctx context.Context, req linklockr.PurchaseRequest) (*linklockr.Receipt, error) {
				assert.Equal(t, "my-link", req.Slug)
				assert.Equal(t, testBuyer, req.UserAddress)
				return &linklockr.Receipt{TxHash: "0xabc123"}, nil
			},
		}
		router := New(engine, nil, nil, nil).Router()

		w := doJSON(t, router, http.MethodPost, "/relay", gin.H{
			"slug":        "my-link",
			"userAddress": testBuyer,
			"price":       "0.01",
		})

		require.Equal(t, http.StatusOK, w.Code)
		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, true, resp["success"])
		assert.Equal(t, "0xabc123", resp["txHash"])
	})

	t.Run("malformed body returns 400", func(t *testing.T) {
		engine := &mockEngine{
			handlePurchase: func(ctx context.Context, req linklockr.PurchaseRequest) (*linklockr.Receipt, error) {
				t.Fatal("engine should not be called")
				return nil, nil
			},
		}
		router := New(engine, nil, nil, nil).Router()

		req := httptest.NewRequest(http.MethodPost, "/relay", bytes.NewBufferString("{not json"))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("error codes map to status classes", func(t *testing.T) {
		cases := []struct {
			code   string
			status int
		}{
			{linklockr.ErrCodeInvalidRequest, http.StatusBadRequest},
			{linklockr.ErrCodeUnknownSlug, http.StatusNotFound},
			{linklockr.ErrCodeUnprofitable, http.StatusTooManyRequests},
			{linklockr.ErrCodeSlugInFlight, http.StatusTooManyRequests},
			{linklockr.ErrCodeAlreadySold, http.StatusConflict},
			{linklockr.ErrCodePermitFailed, http.StatusInternalServerError},
			{linklockr.ErrCodeEstimateFailed, http.StatusInternalServerError},
			{linklockr.ErrCodeBroadcastFailed, http.StatusInternalServerError},
		}

		for _, tc := range cases {
			t.Run(tc.code, func(t *testing.T) {
				engine := &mockEngine{
					handlePurchase: func(ctx context.Context, req linklockr.PurchaseRequest) (*linklockr.Receipt, error) {
						return nil, linklockr.NewRelayError(tc.code, "boom", nil)
					},
				}
				router := New(engine, nil, nil, nil).Router()

				w := doJSON(t, router, http.MethodPost, "/relay", gin.H{
					"slug":        "my-link",
					"userAddress": testBuyer,
					"price":       "0.01",
				})

				assert.Equal(t, tc.status, w.Code)
			})
		}
	})

	t.Run("unprofitable response carries both sides of the comparison", func(t *testing.T) {
		engine := &mockEngine{
			handlePurchase: func(ctx context.Context, req linklockr.PurchaseRequest) (*linklockr.Receipt, error) {
				return nil, linklockr.NewRelayError(linklockr.ErrCodeUnprofitable, "relay not profitable", map[string]interface{}{
					"feeEarnedUsd": "1.5000",
					"gasCostUsd":   "2.7500",
				})
			},
		}
		router := New(engine, nil, nil, nil).Router()

		w := doJSON(t, router, http.MethodPost, "/relay", gin.H{
			"slug":        "my-link",
			"userAddress": testBuyer,
			"price":       "0.01",
		})

		require.Equal(t, http.StatusTooManyRequests, w.Code)
		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "relay not profitable", resp["error"])
		assert.Equal(t, "1.5000", resp["feeEarnedUsd"])
		assert.Equal(t, "2.7500", resp["gasCostUsd"])
	})

	t.Run("plain errors map to 500", func(t *testing.T) {
		engine := &mockEngine{
			handlePurchase: func(ctx context.Context, req linklockr.PurchaseRequest) (*linklockr.Receipt, error) {
				return nil, fmt.Errorf("rpc connection lost")
			},
		}
		router := New(engine, nil, nil, nil).Router()

		w := doJSON(t, router, http.MethodPost, "/relay", gin.H{
			"slug":        "my-link",
			"userAddress": testBuyer,
			"price":       "0.01",
		})

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestHandleCreateLink(t *testing.T) {
	newLinkBody := func() gin.H {
		return gin.H{
			"slug":              "my-link",
			"creator":           testBuyer,
			"priceWei":          "10000000000000000",
			"priceUsd":          "30.00",
			"ciphertext":        "ZW5jcnlwdGVk",
			"dataToEncryptHash": "abc123",
		}
	}

	t.Run("pins metadata and inserts catalog row", func(t *testing.T) {
		var inserted catalog.Link
		index := &mockIndex{
			getLink: func(ctx context.Context, slug string) (*catalog.Link, error) {
				return nil, catalog.ErrNotFound
			},
			insertLink: func(ctx context.Context, link catalog.Link) error {
				inserted = link
				return nil
			},
		}
		pins := &mockPinner{
			pin: func(ctx context.Context, name string, payload interface{}) (string, error) {
				assert.Equal(t, "metadata.json", name)
				return "QmTestCid", nil
			},
		}
		router := New(nil, index, pins, nil).Router()

		w := doJSON(t, router, http.MethodPost, "/links", newLinkBody())

		require.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "my-link", inserted.Slug)
		assert.Equal(t, "QmTestCid", inserted.CID)
		assert.Equal(t, chain.SlugHash("my-link"), inserted.IDHash)
		assert.Equal(t, "10000000000000000", inserted.PriceWei)

		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "QmTestCid", resp["cid"])
		assert.Equal(t, chain.SlugHash("my-link"), resp["idHash"])
	})

	t.Run("rejects malformed slug", func(t *testing.T) {
		router := New(nil, &mockIndex{}, &mockPinner{}, nil).Router()

		body := newLinkBody()
		body["slug"] = "Not A Slug!"
		w := doJSON(t, router, http.MethodPost, "/links", body)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects taken slug", func(t *testing.T) {
		index := &mockIndex{
			getLink: func(ctx context.Context, slug string) (*catalog.Link, error) {
				return &catalog.Link{Slug: slug}, nil
			},
		}
		router := New(nil, index, &mockPinner{}, nil).Router()

		w := doJSON(t, router, http.MethodPost, "/links", newLinkBody())

		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("pin failure does not insert", func(t *testing.T) {
		index := &mockIndex{
			getLink: func(ctx context.Context, slug string) (*catalog.Link, error) {
				return nil, catalog.ErrNotFound
			},
			insertLink: func(ctx context.Context, link catalog.Link) error {
				t.Fatal("insert should not be called")
				return nil
			},
		}
		pins := &mockPinner{
			pin: func(ctx context.Context, name string, payload interface{}) (string, error) {
				return "", errors.New("pin service down")
			},
		}
		router := New(nil, index, pins, nil).Router()

		w := doJSON(t, router, http.MethodPost, "/links", newLinkBody())

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("unconfigured surface returns 503", func(t *testing.T) {
		router := New(nil, nil, nil, nil).Router()

		w := doJSON(t, router, http.MethodPost, "/links", newLinkBody())

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestHandleGetLink(t *testing.T) {
	t.Run("returns catalog row", func(t *testing.T) {
		index := &mockIndex{
			getLink: func(ctx context.Context, slug string) (*catalog.Link, error) {
				assert.Equal(t, "my-link", slug)
				return &catalog.Link{Slug: slug, CID: "QmTestCid", PriceWei: "10000000000000000"}, nil
			},
		}
		router := New(nil, index, nil, nil).Router()

		w := doJSON(t, router, http.MethodGet, "/links/my-link", nil)

		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Link catalog.Link `json:"link"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "QmTestCid", resp.Link.CID)
	})

	t.Run("unknown slug returns 404", func(t *testing.T) {
		index := &mockIndex{
			getLink: func(ctx context.Context, slug string) (*catalog.Link, error) {
				return nil, catalog.ErrNotFound
			},
		}
		router := New(nil, index, nil, nil).Router()

		w := doJSON(t, router, http.MethodGet, "/links/missing", nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("embeds pinned metadata when requested", func(t *testing.T) {
		index := &mockIndex{
			getLink: func(ctx context.Context, slug string) (*catalog.Link, error) {
				return &catalog.Link{Slug: slug, CID: "QmTestCid"}, nil
			},
		}
		pins := &mockPinner{
			fetch: func(ctx context.Context, cid string, out interface{}) error {
				assert.Equal(t, "QmTestCid", cid)
				raw := out.(*json.RawMessage)
				*raw = json.RawMessage(`{"ciphertext":"ZW5jcnlwdGVk"}`)
				return nil
			},
		}
		router := New(nil, index, pins, nil).Router()

		w := doJSON(t, router, http.MethodGet, "/links/my-link?metadata=true", nil)

		require.Equal(t, http.StatusOK, w.Code)
		var resp map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.JSONEq(t, `{"ciphertext":"ZW5jcnlwdGVk"}`, string(resp["metadata"]))
	})
}

func TestHandleAccess(t *testing.T) {
	t.Run("positive balance unlocks", func(t *testing.T) {
		balances := &mockBalances{
			balanceOf: func(ctx context.Context, owner, slug string) (*big.Int, error) {
				assert.Equal(t, testBuyer, owner)
				assert.Equal(t, "my-link", slug)
				return big.NewInt(1), nil
			},
		}
		router := New(nil, nil, nil, balances).Router()

		w := doJSON(t, router, http.MethodGet, "/links/my-link/access?address="+testBuyer, nil)

		require.Equal(t, http.StatusOK, w.Code)
		var resp map[string]bool
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp["unlocked"])
	})

	t.Run("zero balance stays locked", func(t *testing.T) {
		balances := &mockBalances{
			balanceOf: func(ctx context.Context, owner, slug string) (*big.Int, error) {
				return big.NewInt(0), nil
			},
		}
		router := New(nil, nil, nil, balances).Router()

		w := doJSON(t, router, http.MethodGet, "/links/my-link/access?address="+testBuyer, nil)

		require.Equal(t, http.StatusOK, w.Code)
		var resp map[string]bool
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.False(t, resp["unlocked"])
	})

	t.Run("invalid address returns 400", func(t *testing.T) {
		balances := &mockBalances{
			balanceOf: func(ctx context.Context, owner, slug string) (*big.Int, error) {
				t.Fatal("chain should not be called")
				return nil, nil
			},
		}
		router := New(nil, nil, nil, balances).Router()

		w := doJSON(t, router, http.MethodGet, "/links/my-link/access?address=nothex", nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
