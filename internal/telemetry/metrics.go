package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/aliuyar1234/bizdesk"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Resolver metrics
	ResolveTotal        metric.Int64Counter
	ResolveErrorsTotal  metric.Int64Counter
	ResolveDuration     metric.Float64Histogram
	CacheHitsTotal      metric.Int64Counter
	CacheMissesTotal    metric.Int64Counter
	FallbackReadsTotal  metric.Int64Counter
	SelfHealedTotal     metric.Int64Counter
	DeferredGrantsTotal metric.Int64Counter

	// Invite metrics
	InvitesIssuedTotal   metric.Int64Counter
	InvitesRedeemedTotal metric.Int64Counter
	InviteRejectsTotal   metric.Int64Counter

	// Access request metrics
	AccessRequestsTotal  metric.Int64Counter
	AccessDecisionsTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary.
// Instruments bind to whatever meter provider is global at first use; without
// InitTelemetry that is the no-op provider.
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.ResolveTotal, _ = meter.Int64Counter(
		"bizdesk.membership.resolve.total",
		metric.WithDescription("Total number of membership resolutions"),
		metric.WithUnit("{resolve}"),
	)

	m.ResolveErrorsTotal, _ = meter.Int64Counter(
		"bizdesk.membership.resolve.errors.total",
		metric.WithDescription("Total number of failed membership resolutions"),
		metric.WithUnit("{error}"),
	)

	m.ResolveDuration, _ = meter.Float64Histogram(
		"bizdesk.membership.resolve.duration",
		metric.WithDescription("Duration of uncached membership resolutions"),
		metric.WithUnit("ms"),
	)

	m.CacheHitsTotal, _ = meter.Int64Counter(
		"bizdesk.membership.cache.hits.total",
		metric.WithDescription("Total number of membership cache hits"),
		metric.WithUnit("{hit}"),
	)

	m.CacheMissesTotal, _ = meter.Int64Counter(
		"bizdesk.membership.cache.misses.total",
		metric.WithDescription("Total number of membership cache misses"),
		metric.WithUnit("{miss}"),
	)

	m.FallbackReadsTotal, _ = meter.Int64Counter(
		"bizdesk.consistency.fallback.total",
		metric.WithDescription("Total number of reads answered through the owned path"),
		metric.WithUnit("{read}"),
	)

	m.SelfHealedTotal, _ = meter.Int64Counter(
		"bizdesk.membership.self_healed.total",
		metric.WithDescription("Total number of owner member rows written by self-heal"),
		metric.WithUnit("{row}"),
	)

	m.DeferredGrantsTotal, _ = meter.Int64Counter(
		"bizdesk.membership.deferred_grants.total",
		metric.WithDescription("Total number of deferred access grants completed on sign-in"),
		metric.WithUnit("{grant}"),
	)

	m.InvitesIssuedTotal, _ = meter.Int64Counter(
		"bizdesk.invites.issued.total",
		metric.WithDescription("Total number of invites issued"),
		metric.WithUnit("{invite}"),
	)

	m.InvitesRedeemedTotal, _ = meter.Int64Counter(
		"bizdesk.invites.redeemed.total",
		metric.WithDescription("Total number of invites redeemed"),
		metric.WithUnit("{invite}"),
	)

	m.InviteRejectsTotal, _ = meter.Int64Counter(
		"bizdesk.invites.rejected.total",
		metric.WithDescription("Total number of refused redemptions by reason"),
		metric.WithUnit("{invite}"),
	)

	m.AccessRequestsTotal, _ = meter.Int64Counter(
		"bizdesk.access_requests.submitted.total",
		metric.WithDescription("Total number of access requests submitted"),
		metric.WithUnit("{request}"),
	)

	m.AccessDecisionsTotal, _ = meter.Int64Counter(
		"bizdesk.access_requests.decided.total",
		metric.WithDescription("Total number of access request decisions by outcome"),
		metric.WithUnit("{decision}"),
	)

	return m
}

// Add increments c by n with the given string attributes as key/value pairs.
func Add(ctx context.Context, c metric.Int64Counter, n int64, kv ...string) {
	if c == nil {
		return
	}
	c.Add(ctx, n, metric.WithAttributes(pairs(kv)...))
}

func pairs(kv []string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs = append(attrs, attribute.String(kv[i], kv[i+1]))
	}
	return attrs
}
