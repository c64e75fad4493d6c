package auditlog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

const counterKeyPrefix = "solarctl:apicalls:"

// dayTTL keeps a day's counter key around for a little over 24h so a
// straddling read near midnight still sees the prior day's value.
const dayTTL = 26 * time.Hour

// Counters tracks per-tenant, per-day, per-provider external API call
// counts (§4.8) as atomic Redis INCRs with a day-aligned TTL. System-
// originated calls never reach Increment — the retryclient.Client only
// invokes the wired callback for Metered calls that did not fail with a
// rate-limit error (§4.8 counter discipline).
type Counters struct {
	rdb    *redis.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewCounters creates a Counters backed by rdb.
func NewCounters(rdb *redis.Client, logger *slog.Logger) *Counters {
	return &Counters{rdb: rdb, logger: logger, now: time.Now}
}

func dayKey(schema, provider string, day time.Time) string {
	return fmt.Sprintf("%s%s:%s:%s", counterKeyPrefix, schema, day.UTC().Format("2006-01-02"), provider)
}

// Increment bumps today's counter for (schema, provider) by one.
func (c *Counters) Increment(ctx context.Context, schema, provider string) {
	key := dayKey(schema, provider, c.now())
	pipe := c.rdb.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, dayTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("failed to increment API call counter", "tenant", schema, "provider", provider, "error", err)
	}
}

// DailyCount is one day's per-provider counter snapshot.
type DailyCount struct {
	Date     string         `json:"date"`
	Counters map[string]int `json:"counters"`
}

// providers is the fixed label set counters are kept under (§4.8: foxess,
// amber, weather — named for the upstream providers the inverter/price/
// weather clients wrap).
var providers = []string{"inverter", "price", "weather"}

// Last fetches the last n days of per-tenant counters, sorted reverse
// chronological. Implemented by fetching each day's keys directly rather
// than a range query (§6: "avoid requiring a compound index" — here,
// avoid a secondary index entirely by keying on the date in Redis).
func (c *Counters) Last(ctx context.Context, schema string, n int) ([]DailyCount, error) {
	out := make([]DailyCount, 0, n)
	today := c.now().UTC()
	for i := 0; i < n; i++ {
		day := today.AddDate(0, 0, -i)
		dc := DailyCount{Date: day.Format("2006-01-02"), Counters: map[string]int{}}
		for _, p := range providers {
			v, err := c.rdb.Get(ctx, dayKey(schema, p, day)).Int()
			if err != nil && err != redis.Nil {
				return nil, fmt.Errorf("reading counter %s/%s: %w", schema, p, err)
			}
			dc.Counters[p] = v
		}
		out = append(out, dc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	return out, nil
}
