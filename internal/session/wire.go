package session

import (
	"github.com/shopspring/decimal"

	"marketdata/internal/model"
)

// outboundFrame is the envelope every server->client frame is wrapped
// in (spec.md §6 "{"type": "orderbook"|"ohlc", "data": ...}").
type outboundFrame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type orderbookData struct {
	Timestamp int64            `json:"timestamp"`
	LastPrice *decimal.Decimal `json:"lastPrice,omitempty"`
	Bids      []levelData      `json:"bids"`
	Asks      []levelData      `json:"asks"`
}

type levelData struct {
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
}

type ohlcData struct {
	Time   int64           `json:"time"`
	Etime  int64           `json:"etime"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Vwap   decimal.Decimal `json:"vwap"`
	Volume decimal.Decimal `json:"volume"`
	Count  uint32          `json:"count"`
}

func toLevelData(levels []model.PriceLevel) []levelData {
	out := make([]levelData, len(levels))
	for i, l := range levels {
		out[i] = levelData{Price: l.Price, Volume: l.Volume}
	}
	return out
}

// bookUpdateFrame wraps a BookUpdate (snapshot or delta) as the
// client-facing "orderbook" frame, per spec.md §6.
func bookUpdateFrame(u model.BookUpdate) outboundFrame {
	return outboundFrame{
		Type: "orderbook",
		Data: orderbookData{
			Timestamp: u.Timestamp.Unix(),
			LastPrice: u.LastPrice,
			Bids:      toLevelData(u.Bids),
			Asks:      toLevelData(u.Asks),
		},
	}
}

// ohlcFrame wraps an OhlcBar as the client-facing "ohlc" frame.
func ohlcFrame(bar model.OhlcBar) outboundFrame {
	return outboundFrame{
		Type: "ohlc",
		Data: ohlcData{
			Time:   bar.BarStart.Unix(),
			Etime:  bar.BarEnd.Unix(),
			Open:   bar.Open,
			High:   bar.High,
			Low:    bar.Low,
			Close:  bar.Close,
			Vwap:   bar.Vwap,
			Volume: bar.Volume,
			Count:  bar.TradeCount,
		},
	}
}
