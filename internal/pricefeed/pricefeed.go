package pricefeed

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
)

var ErrNoPrice = errors.New("no price for token")

// Feed quotes token prices in a common unit of account. Solvers use it to
// compare input escrow against output cost across chains.
type Feed interface {
	Price(chain, token string) (*big.Rat, error)
}

// StaticFeed serves operator-configured prices. Good enough for closed
// test networks; a production deployment plugs in a live feed.
type StaticFeed struct {
	mu       sync.RWMutex
	prices   map[string]*big.Rat
	fallback *big.Rat
}

func NewStaticFeed() *StaticFeed {
	return &StaticFeed{prices: make(map[string]*big.Rat)}
}

// SetFallback quotes every unconfigured token at the given price instead
// of returning ErrNoPrice.
func (f *StaticFeed) SetFallback(price *big.Rat) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fallback = new(big.Rat).Set(price)
}

func (f *StaticFeed) SetPrice(chain, token string, price *big.Rat) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[priceKey(chain, token)] = new(big.Rat).Set(price)
}

func (f *StaticFeed) Price(chain, token string) (*big.Rat, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	price, ok := f.prices[priceKey(chain, token)]
	if !ok {
		if f.fallback != nil {
			return new(big.Rat).Set(f.fallback), nil
		}
		return nil, ErrNoPrice
	}
	return new(big.Rat).Set(price), nil
}

func priceKey(chain, token string) string {
	return fmt.Sprintf("%s:%s", chain, token)
}
