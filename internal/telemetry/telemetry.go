// Package telemetry accumulates per-mission cost and token usage and mirrors
// it into in-process OpenTelemetry metric instruments. There is no OTLP
// exporter wired: metrics stay in-process (readable via the SDK's manual
// reader) since no external collector is in scope for this module.
package telemetry

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Stats is the monotonically-increasing usage counter attached to a mission
// (spec §3/§8: "stats fields never decrease over a mission's lifetime").
type Stats struct {
	PromptTokens     int64
	CompletionTokens int64
	NativeTokens     int64
	CostUSD          float64
	WebSearches      int64
}

// Add returns a new Stats with delta merged in; Stats is treated as an
// immutable value so callers never observe a partially-updated snapshot.
func (s Stats) Add(delta Stats) Stats {
	return Stats{
		PromptTokens:     s.PromptTokens + delta.PromptTokens,
		CompletionTokens: s.CompletionTokens + delta.CompletionTokens,
		NativeTokens:     s.NativeTokens + delta.NativeTokens,
		CostUSD:          s.CostUSD + delta.CostUSD,
		WebSearches:      s.WebSearches + delta.WebSearches,
	}
}

// CallRecord describes one billable capability invocation, used both to
// update a mission's Stats and to emit metric points and a log line.
type CallRecord struct {
	MissionID        string
	Agent            string // planner, researcher, reflector, writer, messenger
	Phase            string // planning, research, writing, ...
	Provider         string
	Model            string
	PromptTokens     int64
	CompletionTokens int64
	NativeTokens     int64
	CostUSD          float64
	WebSearch        bool
}

// Instruments holds the process-wide OTel metric instruments. Construct once
// via NewInstruments and share across all missions; per-mission breakdown is
// carried as attributes on each recorded point, not as separate instruments.
type Instruments struct {
	meter            metric.Meter
	promptTokens     metric.Int64Counter
	completionTokens metric.Int64Counter
	nativeTokens     metric.Int64Counter
	costUSD          metric.Float64Counter
	webSearches      metric.Int64Counter
	callLatency      metric.Float64Histogram
}

// NewInstruments builds an in-process MeterProvider (no exporter) and
// registers the counters/histogram used by Interceptor.Record.
func NewInstruments() (*Instruments, error) {
	provider := sdkmetric.NewMeterProvider()
	meter := provider.Meter("github.com/maestro-research/maestro")

	promptTokens, err := meter.Int64Counter("maestro.llm.prompt_tokens",
		metric.WithDescription("cumulative prompt tokens consumed"))
	if err != nil {
		return nil, err
	}
	completionTokens, err := meter.Int64Counter("maestro.llm.completion_tokens",
		metric.WithDescription("cumulative completion tokens produced"))
	if err != nil {
		return nil, err
	}
	nativeTokens, err := meter.Int64Counter("maestro.llm.native_tokens",
		metric.WithDescription("cumulative provider-native token count (thinking + output)"))
	if err != nil {
		return nil, err
	}
	costUSD, err := meter.Float64Counter("maestro.llm.cost_usd",
		metric.WithDescription("cumulative estimated cost in USD"))
	if err != nil {
		return nil, err
	}
	webSearches, err := meter.Int64Counter("maestro.web.searches",
		metric.WithDescription("cumulative web search calls"))
	if err != nil {
		return nil, err
	}
	callLatency, err := meter.Float64Histogram("maestro.llm.call_seconds",
		metric.WithDescription("capability call latency in seconds"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		meter:            meter,
		promptTokens:     promptTokens,
		completionTokens: completionTokens,
		nativeTokens:     nativeTokens,
		costUSD:          costUSD,
		webSearches:      webSearches,
		callLatency:      callLatency,
	}, nil
}

// StatsSink receives the accumulated delta so the caller (normally the
// mission context store) can fold it into Mission.Stats durably.
type StatsSink interface {
	AddStats(ctx context.Context, missionID string, delta Stats) error
}

// Interceptor wraps every capability call that consumes tokens or performs a
// web search, recording both the OTel metric points and the mission's
// durable Stats in one place so the two never drift apart.
type Interceptor struct {
	instruments *Instruments
	sink        StatsSink

	mu     sync.Mutex
	totals map[string]Stats // missionID -> running total, for ClickHouse export / debugging
}

func NewInterceptor(instruments *Instruments, sink StatsSink) *Interceptor {
	return &Interceptor{
		instruments: instruments,
		sink:        sink,
		totals:      make(map[string]Stats),
	}
}

// Record folds one CallRecord into the mission's Stats and emits metric
// points tagged with agent/phase/provider/model attributes.
func (ic *Interceptor) Record(ctx context.Context, rec CallRecord) {
	delta := Stats{
		PromptTokens:     rec.PromptTokens,
		CompletionTokens: rec.CompletionTokens,
		NativeTokens:     rec.NativeTokens,
		CostUSD:          rec.CostUSD,
	}
	if rec.WebSearch {
		delta.WebSearches = 1
	}

	attrs := metric.WithAttributes(
		attribute.String("mission_id", rec.MissionID),
		attribute.String("agent", rec.Agent),
		attribute.String("phase", rec.Phase),
		attribute.String("provider", rec.Provider),
		attribute.String("model", rec.Model),
	)

	if ic.instruments != nil {
		ic.instruments.promptTokens.Add(ctx, rec.PromptTokens, attrs)
		ic.instruments.completionTokens.Add(ctx, rec.CompletionTokens, attrs)
		ic.instruments.nativeTokens.Add(ctx, rec.NativeTokens, attrs)
		ic.instruments.costUSD.Add(ctx, rec.CostUSD, attrs)
		if rec.WebSearch {
			ic.instruments.webSearches.Add(ctx, 1, attrs)
		}
	}

	ic.mu.Lock()
	ic.totals[rec.MissionID] = ic.totals[rec.MissionID].Add(delta)
	ic.mu.Unlock()

	if ic.sink != nil {
		if err := ic.sink.AddStats(ctx, rec.MissionID, delta); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("mission_id", rec.MissionID).Msg("telemetry: failed to persist stats delta")
		}
	}
}

// Snapshot returns the in-memory running total for a mission, useful for
// tests and for the ClickHouse sink's periodic flush.
func (ic *Interceptor) Snapshot(missionID string) Stats {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return ic.totals[missionID]
}
