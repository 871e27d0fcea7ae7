// Package lob reconstructs a single-instrument limit order book from a
// generic order-lifecycle event feed (add/modify/delete) and derives
// market-microstructure statistics from it: a trade tape, a cancel tape,
// marketable-order fill tracking, rolling-window aggregates, percentile
// VWAP bands and market-impact estimates.
//
// The engine mirrors an externally authoritative venue book. It never
// matches or originates orders; fills and cancels are inferred from the
// volume deltas the feed reports.
package lob

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side identifies the half of the book an order belongs to.
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "buy"
	}
	return "sell"
}

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// MarshalJSON encodes a side as "buy" or "sell".
func (s Side) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes "buy"/"sell".
func (s *Side) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch v {
	case "buy":
		*s = Buy
	case "sell":
		*s = Sell
	default:
		return fmt.Errorf("invalid side %q", v)
	}
	return nil
}

// Fixed-point scales. All engine arithmetic is integer: prices are quote
// cents, volumes are base satoshis. Decimal conversion happens once, at
// the ingestion boundary.
const (
	PriceScale  = 2
	VolumeScale = 8
)

var (
	priceFactor  = decimal.New(1, PriceScale)
	volumeFactor = decimal.New(1, VolumeScale)
)

// ToCents converts a decimal quote price to integer cents, rounding
// half up.
func ToCents(price decimal.Decimal) int64 {
	return price.Mul(priceFactor).Round(0).IntPart()
}

// ToSats converts a decimal base volume to integer satoshis, rounding
// half up.
func ToSats(volume decimal.Decimal) int64 {
	return volume.Mul(volumeFactor).Round(0).IntPart()
}

// CentsToDecimal converts an integer cent price back to a decimal.
func CentsToDecimal(cents int64) decimal.Decimal {
	return decimal.New(cents, -PriceScale)
}

// SatsToDecimal converts an integer satoshi volume back to a decimal.
func SatsToDecimal(sats int64) decimal.Decimal {
	return decimal.New(sats, -VolumeScale)
}

// OrderInfo carries the identity of a feed order plus its mutable
// remaining volume while it is tracked by the engine.
type OrderInfo struct {
	Source     string
	ID         string
	Seq        int64
	Side       Side
	ExchangeTS time.Time
	LocalTS    time.Time
	Price      int64 // cents
	Volume     int64 // satoshis, remaining
}

// Sale is a trade synthesized from observed book mutations. Side is the
// aggressor side: a Buy sale consumed ask liquidity. Taker attribution
// is best-effort (oldest pending marketable order at synthesis time).
type Sale struct {
	Price    int64 `json:"price"`
	Amount   int64 `json:"amount"`
	Side     Side  `json:"side"`
	TakerSeq int64 `json:"takerSeq"`
	MakerSeq int64 `json:"makerSeq"`
}

// WindowSide implements WindowEntry.
func (s Sale) WindowSide() Side { return s.Side }

// WindowVolume implements WindowEntry.
func (s Sale) WindowVolume() int64 { return s.Amount }

// Cancel is a liquidity removal that was not a fill.
type Cancel struct {
	ID     string `json:"id"`
	Side   Side   `json:"side"`
	Amount int64  `json:"amount"`
}

func (c Cancel) WindowSide() Side    { return c.Side }
func (c Cancel) WindowVolume() int64 { return c.Amount }

// FilledOrder is a finalized marketable order: one that crossed the book
// on arrival and has now been fully accounted for.
type FilledOrder struct {
	ID     string `json:"id"`
	Seq    int64  `json:"seq"`
	Side   Side   `json:"side"`
	Filled int64  `json:"filled"`
}

func (f FilledOrder) WindowSide() Side    { return f.Side }
func (f FilledOrder) WindowVolume() int64 { return f.Filled }
