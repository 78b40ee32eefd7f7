package linklockr

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Price is a purchase price as it arrives on the wire. It accepts either a
// JSON string or a JSON number and preserves the original token so that
// normalization can be exact.
//
// A price in decimal form (contains '.', 'e' or 'E') denotes an amount in
// the native currency; anything else is an integer amount already in minor
// units (wei).
type Price struct {
	raw string
}

// UnmarshalJSON accepts a string or number token.
func (p *Price) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		p.raw = s
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("price must be a string or number: %w", err)
	}
	p.raw = n.String()
	return nil
}

// MarshalJSON renders the price back as its original token.
func (p Price) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.raw)
}

// String returns the raw price token.
func (p Price) String() string { return p.raw }

// IsZero reports whether the price was absent from the request.
func (p Price) IsZero() bool { return p.raw == "" }

// IsDecimalForm reports whether the price denotes a native-currency decimal
// amount rather than an integer minor-unit amount.
func (p Price) IsDecimalForm() bool {
	return strings.ContainsAny(p.raw, ".eE")
}

// NewPrice builds a Price from a raw token, mainly for tests and internal
// construction.
func NewPrice(raw string) Price { return Price{raw: raw} }

// PermitAuthorization carries a buyer-signed EIP-2612 permit. It is consumed
// at most once: the relay submits it on-chain before the purchase call and
// never retries a consumed permit (the token nonce increments on use).
type PermitAuthorization struct {
	Owner    string `json:"owner"`
	Spender  string `json:"spender"`
	Value    string `json:"value"`    // uint256 as decimal string
	Deadline int64  `json:"deadline"` // unix seconds
	V        uint8  `json:"v"`
	R        string `json:"r"` // 32-byte hex
	S        string `json:"s"` // 32-byte hex
}

// PurchaseRequest is the body of POST /relay.
type PurchaseRequest struct {
	Slug        string               `json:"slug"`
	UserAddress string               `json:"userAddress"`
	Price       Price                `json:"price"`
	Permit      *PermitAuthorization `json:"permit,omitempty"`
}

var addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// Validate checks the request's required fields and formats. It does not
// touch the network.
func (r *PurchaseRequest) Validate() error {
	if r.Slug == "" {
		return NewRelayError(ErrCodeInvalidRequest, "slug is required", nil)
	}
	if !addressPattern.MatchString(r.UserAddress) {
		return NewRelayError(ErrCodeInvalidRequest, fmt.Sprintf("invalid user address: %q", r.UserAddress), nil)
	}
	if r.Price.IsZero() {
		return NewRelayError(ErrCodeInvalidRequest, "price is required", nil)
	}
	if p := r.Permit; p != nil {
		if !addressPattern.MatchString(p.Owner) || !addressPattern.MatchString(p.Spender) {
			return NewRelayError(ErrCodeInvalidRequest, "permit owner and spender must be addresses", nil)
		}
		if p.Deadline <= 0 {
			return NewRelayError(ErrCodeInvalidRequest, "permit deadline is required", nil)
		}
	}
	return nil
}

// ProfitabilityVerdict is the outcome of the gas-profitability comparison.
// It is request-scoped: never persisted, only logged and, on rejection,
// echoed to the caller.
type ProfitabilityVerdict struct {
	Admitted     bool   `json:"admitted"`
	FeeEarnedUsd string `json:"feeEarnedUsd"`
	GasCostUsd   string `json:"gasCostUsd"`
	Reason       string `json:"reason,omitempty"`
}

// Receipt is returned after an admitted purchase is broadcast. The
// transaction is not confirmed at this point; confirmation is the caller's
// concern.
type Receipt struct {
	TxHash  string               `json:"txHash"`
	Verdict ProfitabilityVerdict `json:"-"`
}
