package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/updownbet/updown/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each market's
// latest accepted oracle reading is stored at "price:{market}" with fields
// "price" (int64 minor units) and "ts" (Unix nanosecond timestamp).
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(market string) string {
	return "price:" + market
}

// SetQuote stores the latest oracle reading for a market.
func (pc *PriceCache) SetQuote(ctx context.Context, market string, q domain.Quote) error {
	fields := map[string]interface{}{
		"price": strconv.FormatInt(q.Price, 10),
		"ts":    strconv.FormatInt(q.ObservedAt.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, priceKey(market), fields).Err(); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", market, err)
	}
	return nil
}

// GetQuote retrieves the latest oracle reading for a market. It returns
// domain.ErrNotFound when no reading has been cached yet.
func (pc *PriceCache) GetQuote(ctx context.Context, market string) (domain.Quote, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(market)).Result()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", market, err)
	}
	if len(vals) == 0 {
		return domain.Quote{}, domain.ErrNotFound
	}

	priceStr, ok := vals["price"]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	price, err := strconv.ParseInt(priceStr, 10, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse price %s: %w", market, err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return domain.Quote{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: parse ts %s: %w", market, err)
	}

	return domain.Quote{Price: price, ObservedAt: time.Unix(0, tsNano)}, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
