package market

import (
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var ErrNoQuote = errors.New("price not found")

// Quote is the reference price of an instrument.
type Quote struct {
	Symbol string
	Time   time.Time
	Last   decimal.Decimal
	Bid    decimal.Decimal
	Ask    decimal.Decimal
}

func (q Quote) Mid() decimal.Decimal {
	return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
}

func (q Quote) Spread() decimal.Decimal {
	return q.Ask.Sub(q.Bid)
}

// QuoteFromBar sets last, bid and ask to the bar's close.
func QuoteFromBar(symbol string, b Bar) Quote {
	return Quote{Symbol: symbol, Time: b.LastUpdate, Last: b.Close, Bid: b.Close, Ask: b.Close}
}

type QuoteStore struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

func NewQuoteStore() *QuoteStore {
	return &QuoteStore{quotes: make(map[string]Quote)}
}

func (qs *QuoteStore) Set(q Quote) {
	qs.mu.Lock()
	defer qs.mu.Unlock()
	qs.quotes[q.Symbol] = q
}

func (qs *QuoteStore) Get(symbol string) (Quote, error) {
	qs.mu.RLock()
	defer qs.mu.RUnlock()
	q, ok := qs.quotes[symbol]
	if !ok {
		return Quote{}, ErrNoQuote
	}
	return q, nil
}
