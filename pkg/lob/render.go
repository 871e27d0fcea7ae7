package lob

import (
	"fmt"
	"strings"
)

const renderDepth = 45

func fmtPrice(cents int64) string {
	return "$" + CentsToDecimal(cents).StringFixed(2)
}

func fmtVolume(sats int64) string {
	return SatsToDecimal(sats).StringFixed(8)
}

func (s Sale) String() string {
	return fmt.Sprintf("%s %s @ %s (taker %d, maker %d)",
		s.Side, fmtVolume(s.Amount), fmtPrice(s.Price), s.TakerSeq, s.MakerSeq)
}

func renderBidLevel(pct float64, volSum int64, lvl *Level) string {
	if lvl == nil {
		return strings.Repeat(" ", 54)
	}
	return fmt.Sprintf("%.2f%%\t%s\t%d\t%s\t%s",
		pct, fmtVolume(volSum), lvl.Orders, fmtVolume(lvl.Volume), fmtPrice(lvl.Price))
}

func renderAskLevel(pct float64, volSum int64, lvl *Level) string {
	if lvl == nil {
		return ""
	}
	return fmt.Sprintf("%s\t%s\t%d\t%s\t%.2f%%",
		fmtPrice(lvl.Price), fmtVolume(lvl.Volume), lvl.Orders, fmtVolume(volSum), pct)
}

// Render draws both sides of the book to a fixed depth, bids on the
// left and asks on the right, each row annotated with the cumulative
// volume to that level and its distance from best. Recent trades are
// appended to the right of the rows, newest first.
func (e *Engine) Render() string {
	var sb strings.Builder
	bids := e.bids.Levels(renderDepth)
	asks := e.asks.Levels(renderDepth)
	bestBid, _ := e.bids.BestPrice()
	bestAsk, _ := e.asks.BestPrice()
	tape := e.trades.Items()

	var bidVolSum, askVolSum int64
	for i := 0; i < renderDepth; i++ {
		var bid, ask *Level
		if i < len(bids) {
			bid = &bids[i]
		}
		if i < len(asks) {
			ask = &asks[i]
		}

		var bidPct, askPct float64
		if bid != nil {
			bidVolSum += bid.Volume
			bidPct = 100 * float64(bestBid-bid.Price) / float64(bestBid)
		}
		if ask != nil {
			askVolSum += ask.Volume
			askPct = 100 * float64(ask.Price-bestAsk) / float64(ask.Price)
		}

		sb.WriteString(renderBidLevel(bidPct, bidVolSum, bid))
		sb.WriteString(" | ")
		sb.WriteString(renderAskLevel(askPct, askVolSum, ask))
		if j := len(tape) - 1 - i; j >= 0 {
			sb.WriteString(" ")
			sb.WriteString(tape[j].String())
		}
		sb.WriteString("\n")
	}

	sb.WriteString(strings.Repeat("=", 109))
	sb.WriteString("\n")
	st := e.State()
	fmt.Fprintf(&sb, "event %d", st.Event)
	if st.BestBid != nil && st.BestAsk != nil {
		fmt.Fprintf(&sb, " | %s/%s", fmtPrice(st.BestBid.Price), fmtPrice(st.BestAsk.Price))
	}
	fmt.Fprintf(&sb, " | bids %d (%s) asks %d (%s)",
		st.TotalBids, fmtVolume(st.TotalBidVol), st.TotalAsks, fmtVolume(st.TotalAskVol))
	fmt.Fprintf(&sb, " | mo %d/%d out %s/%s",
		st.MOActiveBuys, st.MOActiveSells,
		fmtVolume(st.MOOutstandingBuyVolume), fmtVolume(st.MOOutstandingSellVolume))
	fmt.Fprintf(&sb, " | hi %s lo %s\n", fmtPrice(st.HighestPrice), fmtPrice(st.LowestPrice))
	return sb.String()
}
