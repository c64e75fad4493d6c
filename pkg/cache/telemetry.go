package cache

import (
	"context"
	"time"

	"github.com/solarctl/solarctl/pkg/signal"
)

const telemetryKeyPrefix = "solarctl:cache:telemetry:"

// DefaultTelemetryTTL is the default freshness window for a telemetry read
// (§4.4: 5 minutes).
const DefaultTelemetryTTL = 5 * time.Minute

// Telemetry returns the tenant's cached telemetry document if it is younger
// than ttl, otherwise calls fetch and caches the result.
func (c *Cache) Telemetry(ctx context.Context, tenantSchema string, ttl time.Duration, fetch func(ctx context.Context) (signal.Telemetry, error)) (signal.Telemetry, Result, error) {
	return getOrFetch(ctx, c, telemetryKeyPrefix+tenantSchema, ttl, fetch)
}
