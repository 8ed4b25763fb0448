package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Adjust is the price adjustment applied to a daily bar series.
type Adjust string

const (
	AdjustNone    Adjust = "none"
	AdjustForward Adjust = "qfq"
	AdjustBack    Adjust = "hfq"
)

// DailyBar is one stock's quote for one trading day.
// A bar is uniquely identified by (Code, TradeDate, Adjust).
type DailyBar struct {
	Code      string          `json:"code"`
	TradeDate time.Time       `json:"trade_date"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    int64           `json:"volume"`
	Amount    decimal.Decimal `json:"amount"`
	Adjust    Adjust          `json:"adjust"`
}

// DailyBars is the fetch result for a single stock code.
type DailyBars struct {
	Code string     `json:"code"`
	Bars []DailyBar `json:"bars"`
}
