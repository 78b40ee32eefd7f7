// Package relay implements the gas-profitability decision gate: it admits a
// purchase relay only when the platform fee earned covers the gas spent on
// the buyer's behalf, then broadcasts the purchase with the custodial key.
package relay

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	linklockr "github.com/cynamonster/linklockr"
	"github.com/cynamonster/linklockr/chain"
)

// feeDenominator converts basis points into a fraction.
const feeDenominator = 10000

// DefaultFeeBps is the platform fee in basis points (5%).
const DefaultFeeBps = 500

// MinProfitUsd is the kill-switch margin: a relay is admitted only when
// gasCostUsd <= feeEarnedUsd - MinProfitUsd. Fixed at one cent; it must not
// be rounded away.
var MinProfitUsd = decimal.New(1, -2)

// soldCacheTTL is how long a broadcast purchase shadows further relays for
// the same slug.
const soldCacheTTL = 10 * time.Minute

// ChainClient is the slice of the chain signer the engine consumes.
type ChainClient interface {
	EstimateBuyGas(ctx context.Context, slug, buyer, feeRecipient string, feeBps, value *big.Int) (uint64, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	SubmitBuy(ctx context.Context, slug, buyer, feeRecipient string, feeBps, value *big.Int, gasLimit uint64, gasPrice *big.Int) (string, error)
	SubmitPermit(ctx context.Context, permit linklockr.PermitAuthorization) (string, error)
	WaitMined(ctx context.Context, txHash string) (uint64, error)
}

// RateSource supplies the native currency's USD rate. Implementations must
// not fail; feed trouble degrades to a fallback rate.
type RateSource interface {
	NativeUsdRate(ctx context.Context) decimal.Decimal
}

// Catalog checks purchase slugs against the link index.
type Catalog interface {
	LinkExists(ctx context.Context, slug string) (bool, error)
}

// Config configures the decision engine. The relay credential itself lives
// in the ChainClient; the engine only carries the economics.
type Config struct {
	// FeeRecipient is the platform fee address passed to the contract.
	FeeRecipient string

	// FeeBps is the platform fee in basis points. Defaults to DefaultFeeBps.
	FeeBps int64

	// MinProfitUsd overrides the kill-switch margin. Defaults to
	// MinProfitUsd ($0.01).
	MinProfitUsd decimal.Decimal

	// Now is the clock used for permit deadlines. Defaults to time.Now.
	Now func() time.Time
}

// Engine is the relay decision gate. It is stateless across requests except
// for the per-slug in-flight guard; the custodial key and fee recipient are
// configuration, not data.
type Engine struct {
	chain   ChainClient
	oracle  RateSource
	catalog Catalog // optional

	feeRecipient string
	feeBps       *big.Int
	minProfit    decimal.Decimal
	now          func() time.Time

	inflight *inflightGuard
}

// NewEngine creates a decision engine. catalog may be nil, in which case the
// slug existence check is skipped.
func NewEngine(chainClient ChainClient, oracle RateSource, catalog Catalog, config Config) *Engine {
	feeBps := config.FeeBps
	if feeBps == 0 {
		feeBps = DefaultFeeBps
	}
	minProfit := config.MinProfitUsd
	if minProfit.IsZero() {
		minProfit = MinProfitUsd
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{
		chain:        chainClient,
		oracle:       oracle,
		catalog:      catalog,
		feeRecipient: config.FeeRecipient,
		feeBps:       big.NewInt(feeBps),
		minProfit:    minProfit,
		now:          now,
		inflight:     newInflightGuard(soldCacheTTL),
	}
}

// HandlePurchase runs the relay decision for one purchase request:
// normalize, check the catalog, submit an optional permit, estimate gas,
// compare fee earned against gas cost, and broadcast if profitable.
//
// The broadcast is fire-and-forget: the returned receipt carries the hash
// at broadcast time and says nothing about confirmation. Rejections and
// failures come back as *linklockr.RelayError with a code the HTTP layer
// maps to a status class.
func (e *Engine) HandlePurchase(ctx context.Context, req linklockr.PurchaseRequest) (*linklockr.Receipt, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	reqID := uuid.NewString()

	// 1. Normalize the price to exact integer minor units. The permit path
	// is denominated in the 6-decimal stable token, the native path in wei.
	decimals := linklockr.NativeDecimals
	if req.Permit != nil {
		decimals = linklockr.TokenDecimals
	}
	priceMinor, err := linklockr.NormalizePrice(req.Price, decimals)
	if err != nil {
		return nil, err
	}

	if e.catalog != nil {
		exists, err := e.catalog.LinkExists(ctx, req.Slug)
		if err != nil {
			return nil, fmt.Errorf("catalog lookup failed: %w", err)
		}
		if !exists {
			return nil, linklockr.NewRelayError(linklockr.ErrCodeUnknownSlug,
				fmt.Sprintf("no link with slug %q", req.Slug), nil)
		}
	}

	// Per-slug exclusion: a second relay for the same slug would pass the
	// profitability check and revert on-chain, so it is turned away here.
	if err := e.inflight.Acquire(req.Slug); err != nil {
		return nil, err
	}
	defer e.inflight.Release(req.Slug)

	// 2. Optional permit, confirmed before anything else is attempted.
	if req.Permit != nil {
		if err := e.submitPermit(ctx, reqID, *req.Permit); err != nil {
			return nil, err
		}
	}

	// 3. Platform fee. On-chain amounts stay integer; USD is decimal.
	rate := e.oracle.NativeUsdRate(ctx)
	feeEarnedUsd := e.feeEarnedUsd(priceMinor, rate, req.Permit != nil)

	// The value sent with buyLink: the full price on the native path,
	// nothing on the token path (funds move via the permit allowance).
	value := priceMinor
	if req.Permit != nil {
		value = big.NewInt(0)
	}

	// 4. Dry-run gas estimate with the exact call. A revert (item sold,
	// contract paused) is fatal; no default is substituted.
	gasUnits, err := e.chain.EstimateBuyGas(ctx, req.Slug, req.UserAddress, e.feeRecipient, e.feeBps, value)
	if err != nil {
		return nil, linklockr.NewRelayError(linklockr.ErrCodeEstimateFailed, err.Error(), nil)
	}

	// 5. Current gas price, with a conservative default when unavailable.
	gasPrice, err := e.chain.GasPrice(ctx)
	if err != nil || gasPrice == nil || gasPrice.Sign() <= 0 {
		gasPrice = chain.DefaultGasPriceWei
	}

	// 6. Gas cost in USD.
	costWei := new(big.Int).Mul(new(big.Int).SetUint64(gasUnits), gasPrice)
	gasCostUsd := decimal.NewFromBigInt(costWei, -linklockr.NativeDecimals).Mul(rate)

	log.Printf("relay %s slug=%s: fee earned $%s vs gas cost $%s",
		reqID, req.Slug, feeEarnedUsd.StringFixed(4), gasCostUsd.StringFixed(4))

	// 7. The kill switch.
	if gasCostUsd.GreaterThan(feeEarnedUsd.Sub(e.minProfit)) {
		return nil, linklockr.NewRelayError(linklockr.ErrCodeUnprofitable,
			"network congested, try again later or pay gas directly",
			map[string]interface{}{
				"feeEarnedUsd": feeEarnedUsd.StringFixed(4),
				"gasCostUsd":   gasCostUsd.StringFixed(4),
			})
	}

	// 8. Broadcast with the estimate's gas limit and the read gas price.
	// No re-estimate, no re-check, no confirmation wait.
	txHash, err := e.chain.SubmitBuy(ctx, req.Slug, req.UserAddress, e.feeRecipient, e.feeBps, value, gasUnits, gasPrice)
	if err != nil {
		return nil, linklockr.NewRelayError(linklockr.ErrCodeBroadcastFailed, err.Error(), nil)
	}
	e.inflight.MarkSold(req.Slug, txHash)

	return &linklockr.Receipt{
		TxHash: txHash,
		Verdict: linklockr.ProfitabilityVerdict{
			Admitted:     true,
			FeeEarnedUsd: feeEarnedUsd.StringFixed(4),
			GasCostUsd:   gasCostUsd.StringFixed(4),
		},
	}, nil
}

// feeEarnedUsd computes the platform's cut of one sale in USD. The token
// path treats the stable token as one dollar per unit; the native path goes
// through the oracle rate.
func (e *Engine) feeEarnedUsd(priceMinor *big.Int, rate decimal.Decimal, tokenPath bool) decimal.Decimal {
	feeFraction := decimal.New(e.feeBps.Int64(), -4) // bps / 10000

	if tokenPath {
		priceUsd := decimal.NewFromBigInt(priceMinor, -linklockr.TokenDecimals)
		return priceUsd.Mul(feeFraction)
	}

	priceEth := decimal.NewFromBigInt(priceMinor, -linklockr.NativeDecimals)
	return priceEth.Mul(rate).Mul(feeFraction)
}

// submitPermit sends the buyer's permit as its own transaction and waits
// for a success receipt. Any failure is fatal to the request; a consumed or
// expired permit cannot be retried.
func (e *Engine) submitPermit(ctx context.Context, reqID string, permit linklockr.PermitAuthorization) error {
	if permit.Deadline <= e.now().Unix() {
		return linklockr.NewRelayError(linklockr.ErrCodePermitFailed, "permit deadline has passed", nil)
	}

	txHash, err := e.chain.SubmitPermit(ctx, permit)
	if err != nil {
		return linklockr.NewRelayError(linklockr.ErrCodePermitFailed, err.Error(), nil)
	}

	status, err := e.chain.WaitMined(ctx, txHash)
	if err != nil {
		return linklockr.NewRelayError(linklockr.ErrCodePermitFailed,
			fmt.Sprintf("permit confirmation failed: %v", err), nil)
	}
	if status != chain.TxStatusSuccess {
		return linklockr.NewRelayError(linklockr.ErrCodePermitFailed, "permit transaction reverted", nil)
	}

	log.Printf("relay %s: permit confirmed in %s", reqID, txHash)
	return nil
}
