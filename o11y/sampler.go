package o11y

import (
	"fmt"

	tc "go.opentelemetry.io/otel/sdk/trace"
)

// SamplerKind is the closed set of sampling policies the pipeline supports.
type SamplerKind int

const (
	// SamplerAlwaysOn records every trace.
	SamplerAlwaysOn SamplerKind = iota
	// SamplerRatio samples new root traces with a fixed probability derived from the trace id.
	SamplerRatio
)

func (k SamplerKind) String() string {
	switch k {
	case SamplerAlwaysOn:
		return "always_on"
	case SamplerRatio:
		return "ratio"
	default:
		return fmt.Sprintf("SamplerKind(%d)", int(k))
	}
}

// SamplingPolicy is the resolved sampling decision made once at startup.
type SamplingPolicy struct {
	Kind  SamplerKind
	Ratio float64
}

// ResolveSampling turns the configuration into a policy. AlwaysOn wins over Ratio,
// and the ratio is clamped to [0,1].
func ResolveSampling(cfg SamplingConfig) SamplingPolicy {
	if cfg.AlwaysOn {
		return SamplingPolicy{Kind: SamplerAlwaysOn, Ratio: 1}
	}
	return SamplingPolicy{Kind: SamplerRatio, Ratio: clampRatio(cfg.Ratio)}
}

// Sampler returns the SDK sampler for the policy.
//
// The ratio sampler only decides for root spans. Child spans follow their parent, so a
// decision made at the root is never revisited further down the trace. TraceIDRatioBased
// derives the decision from the trace id, which keeps it consistent across processes.
func (p SamplingPolicy) Sampler() tc.Sampler {
	switch p.Kind {
	case SamplerAlwaysOn:
		return tc.AlwaysSample()
	case SamplerRatio:
		return tc.ParentBased(tc.TraceIDRatioBased(p.Ratio))
	default:
		return tc.ParentBased(tc.AlwaysSample())
	}
}

// NewSampler is a shorthand for ResolveSampling(cfg).Sampler().
func NewSampler(cfg SamplingConfig) tc.Sampler {
	return ResolveSampling(cfg).Sampler()
}

func clampRatio(r float64) float64 {
	switch {
	case r != r: // NaN
		return 0
	case r < 0:
		return 0
	case r > 1:
		return 1
	default:
		return r
	}
}
