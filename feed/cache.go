package feed

import (
	"sync"
	"time"

	"github.com/WeiXinbang/FuturesCloudSentinel/models"
)

// Cache holds the latest quote per symbol. Readers see the last price even
// while the upstream connection is down.
type Cache struct {
	mu     sync.RWMutex
	quotes map[string]models.Quote
}

func NewCache() *Cache {
	return &Cache{quotes: make(map[string]models.Quote)}
}

func (c *Cache) Update(symbol string, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes[symbol] = models.Quote{
		Symbol:   symbol,
		Price:    price,
		Received: time.Now(),
	}
}

func (c *Cache) Get(symbol string) (models.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[symbol]
	return q, ok
}

// Known reports whether any quote has ever been observed for the symbol.
func (c *Cache) Known(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.quotes[symbol]
	return ok
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.quotes)
}
