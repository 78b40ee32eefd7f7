// Package server exposes the relay gate and the catalog surface over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"

	linklockr "github.com/cynamonster/linklockr"
	"github.com/cynamonster/linklockr/catalog"
	"github.com/cynamonster/linklockr/chain"
)

// RelayEngine is the decision gate behind POST /relay.
type RelayEngine interface {
	HandlePurchase(ctx context.Context, req linklockr.PurchaseRequest) (*linklockr.Receipt, error)
}

// LinkIndex is the catalog surface the server reads and writes.
type LinkIndex interface {
	GetLink(ctx context.Context, slug string) (*catalog.Link, error)
	InsertLink(ctx context.Context, link catalog.Link) error
}

// Pinner pins and fetches encrypted metadata bundles.
type Pinner interface {
	Pin(ctx context.Context, name string, payload interface{}) (string, error)
	Fetch(ctx context.Context, cid string, out interface{}) error
}

// BalanceReader answers the unlock check against the contract.
type BalanceReader interface {
	BalanceOf(ctx context.Context, owner, slug string) (*big.Int, error)
}

// Server wires the HTTP routes to their collaborators.
type Server struct {
	engine   RelayEngine
	index    LinkIndex
	pins     Pinner
	balances BalanceReader
}

// New creates the HTTP server. index, pins and balances may be nil when the
// corresponding surface is not deployed; their routes then answer 503.
func New(engine RelayEngine, index LinkIndex, pins Pinner, balances BalanceReader) *Server {
	return &Server{
		engine:   engine,
		index:    index,
		pins:     pins,
		balances: balances,
	}
}

// Router builds the gin handler.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/relay", s.handleRelay)
	r.POST("/links", s.handleCreateLink)
	r.GET("/links/:slug", s.handleGetLink)
	r.GET("/links/:slug/access", s.handleAccess)
	return r
}

// handleRelay runs the purchase relay decision. The status class encodes
// the outcome: 200 broadcast, 429 retry later, 4xx caller error, 5xx
// infrastructure.
func (s *Server) handleRelay(c *gin.Context) {
	var req linklockr.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body: " + err.Error()})
		return
	}

	receipt, err := s.engine.HandlePurchase(c.Request.Context(), req)
	if err != nil {
		status, body := relayErrorResponse(err)
		c.JSON(status, body)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"txHash":  receipt.TxHash,
	})
}

// relayErrorResponse maps an engine error to a status and JSON body. The
// economic rejection carries both sides of the comparison for
// observability.
func relayErrorResponse(err error) (int, gin.H) {
	var relayErr *linklockr.RelayError
	if !errors.As(err, &relayErr) {
		return http.StatusInternalServerError, gin.H{"error": err.Error()}
	}

	body := gin.H{"error": relayErr.Message}
	for k, v := range relayErr.Details {
		body[k] = v
	}

	switch relayErr.Code {
	case linklockr.ErrCodeInvalidRequest:
		return http.StatusBadRequest, body
	case linklockr.ErrCodeUnknownSlug:
		return http.StatusNotFound, body
	case linklockr.ErrCodeUnprofitable, linklockr.ErrCodeSlugInFlight:
		return http.StatusTooManyRequests, body
	case linklockr.ErrCodeAlreadySold:
		return http.StatusConflict, body
	default:
		return http.StatusInternalServerError, body
	}
}

// createLinkRequest mirrors what the storefront submits after the creator's
// wallet has registered the slug on-chain: the encrypted bundle plus the
// price columns for the index.
type createLinkRequest struct {
	Slug                    string          `json:"slug" binding:"required"`
	Creator                 string          `json:"creator"`
	PriceWei                string          `json:"priceWei"`
	PriceUsd                string          `json:"priceUsd"`
	Ciphertext              string          `json:"ciphertext" binding:"required"`
	DataToEncryptHash       string          `json:"dataToEncryptHash" binding:"required"`
	AccessControlConditions json.RawMessage `json:"accessControlConditions"`
}

var (
	slugPattern    = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
	addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
)

func (s *Server) handleCreateLink(c *gin.Context) {
	if s.index == nil || s.pins == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "catalog surface not configured"})
		return
	}

	var req createLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body: " + err.Error()})
		return
	}
	if !slugPattern.MatchString(req.Slug) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid slug"})
		return
	}

	if _, err := s.index.GetLink(c.Request.Context(), req.Slug); err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "slug already taken"})
		return
	} else if !errors.Is(err, catalog.ErrNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	cid, err := s.pins.Pin(c.Request.Context(), "metadata.json", gin.H{
		"ciphertext":              req.Ciphertext,
		"dataToEncryptHash":       req.DataToEncryptHash,
		"accessControlConditions": req.AccessControlConditions,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	idHash := chain.SlugHash(req.Slug)
	link := catalog.Link{
		Slug:     req.Slug,
		IDHash:   idHash,
		CID:      cid,
		PriceWei: req.PriceWei,
		PriceUsd: req.PriceUsd,
		Creator:  req.Creator,
	}
	if err := s.index.InsertLink(c.Request.Context(), link); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"slug":   req.Slug,
		"cid":    cid,
		"idHash": idHash,
	})
}

func (s *Server) handleGetLink(c *gin.Context) {
	if s.index == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "catalog surface not configured"})
		return
	}

	link, err := s.index.GetLink(c.Request.Context(), c.Param("slug"))
	if errors.Is(err, catalog.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "link not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	body := gin.H{"link": link}
	if c.Query("metadata") == "true" && s.pins != nil {
		var metadata json.RawMessage
		if err := s.pins.Fetch(c.Request.Context(), link.CID, &metadata); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		body["metadata"] = metadata
	}
	c.JSON(http.StatusOK, body)
}

// handleAccess reports whether an address already owns the slug's token,
// the same balanceOf read the storefront uses to show "unlocked".
func (s *Server) handleAccess(c *gin.Context) {
	if s.balances == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "chain surface not configured"})
		return
	}

	address := c.Query("address")
	if !addressPattern.MatchString(address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return
	}

	balance, err := s.balances.BalanceOf(c.Request.Context(), address, c.Param("slug"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"unlocked": balance.Sign() > 0})
}
