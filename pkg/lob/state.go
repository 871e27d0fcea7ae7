package lob

import "time"

// LevelSummary is the best-level digest carried in BookState.
type LevelSummary struct {
	Price  int64 `json:"price"`
	Volume int64 `json:"volume"`
	Orders int32 `json:"orders"`
}

// BookState is the per-engine aggregate mutated on every event. One
// instance per engine; snapshots are value copies and safe to hand out.
type BookState struct {
	Event uint64    `json:"event"`
	TS    time.Time `json:"ts"`

	BestBid *LevelSummary `json:"bestBid,omitempty"`
	BestAsk *LevelSummary `json:"bestAsk,omitempty"`

	TotalBids   int   `json:"totalBids"`
	TotalAsks   int   `json:"totalAsks"`
	TotalBidVol int64 `json:"totalBidVol"`
	TotalAskVol int64 `json:"totalAskVol"`

	// Marketable ("market") orders currently pending.
	MOActiveBuys            int   `json:"moActiveBuys"`
	MOActiveSells           int   `json:"moActiveSells"`
	MOOutstandingBuyVolume  int64 `json:"moOutstandingBuyVolume"`
	MOOutstandingSellVolume int64 `json:"moOutstandingSellVolume"`

	// Tip: the price the outstanding pending volume on a side would
	// execute through against the opposing book right now.
	MOBuyTip  int64 `json:"moBuyTip"`
	MOSellTip int64 `json:"moSellTip"`

	// Rolling-window aggregates (last 100 entries each).
	FilledBuy  WindowStats `json:"filledBuy"`
	FilledSell WindowStats `json:"filledSell"`
	TradeBuy   WindowStats `json:"tradeBuy"`
	TradeSell  WindowStats `json:"tradeSell"`
	CancelBid  WindowStats `json:"cancelBid"`
	CancelAsk  WindowStats `json:"cancelAsk"`

	// Lifetime filled-marketable-order totals.
	TotalMOBuys    int   `json:"totalMoBuys"`
	TotalMOBuyVol  int64 `json:"totalMoBuyVol"`
	TotalMOSells   int   `json:"totalMoSells"`
	TotalMOSellVol int64 `json:"totalMoSellVol"`

	HighestPrice int64 `json:"highestPrice"`
	LowestPrice  int64 `json:"lowestPrice"`

	BidPercentile []*Percentile `json:"bidPercentile"`
	AskPercentile []*Percentile `json:"askPercentile"`

	BuyImpact  Impact `json:"buyImpact"`
	SellImpact Impact `json:"sellImpact"`

	LastTrade *Sale `json:"lastTrade,omitempty"`
}
