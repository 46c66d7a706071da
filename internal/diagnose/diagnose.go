// Package diagnose turns a captured failure into a root-cause diagnosis
// and a named remediation playbook. The model-backed provider is treated
// as unreliable: every path through this package ends in a usable
// diagnosis, falling back to pattern matching when the model is
// unavailable or returns garbage.
package diagnose

import (
	"context"
	"log/slog"
	"time"

	"github.com/Priyanshiguptaaa/SelfHealingAgents/internal/model"
)

// Origin values recorded on DiagnosisReady events.
const (
	OriginModel    = "model"
	OriginFallback = "fallback"
)

// Diagnosis is the output of root-cause analysis. Confidence is
// advisory only; it never gates the apply decision.
type Diagnosis struct {
	Cause        string
	Playbook     string
	Taxonomy     string
	Confidence   float64
	Origin       string
	File         string
	Instructions string
}

// Provider analyzes a failure capture.
type Provider interface {
	Diagnose(ctx context.Context, capture model.FailureCapture) (Diagnosis, error)
}

// Resilient wraps a primary provider with the pattern fallback. The
// primary is retried once after a short backoff; if both attempts fail
// the fallback answers. A nil primary goes straight to the fallback.
type Resilient struct {
	primary  Provider
	fallback *PatternProvider
	logger   *slog.Logger
	backoff  time.Duration
}

// NewResilient builds the standard provider chain.
func NewResilient(primary Provider, logger *slog.Logger) *Resilient {
	return &Resilient{
		primary:  primary,
		fallback: NewPatternProvider(),
		logger:   logger,
		backoff:  500 * time.Millisecond,
	}
}

// Diagnose never returns an error from the primary provider. The only
// error path is the fallback failing to match, which callers treat as
// an unhealable failure.
func (r *Resilient) Diagnose(ctx context.Context, capture model.FailureCapture) (Diagnosis, error) {
	if r.primary != nil {
		for attempt := 0; attempt < 2; attempt++ {
			if attempt > 0 {
				select {
				case <-time.After(r.backoff):
				case <-ctx.Done():
					return r.fallbackDiagnose(ctx, capture)
				}
			}
			d, err := r.primary.Diagnose(ctx, capture)
			if err == nil {
				d.Origin = OriginModel
				return d, nil
			}
			r.logger.Warn("diagnose: primary provider failed",
				"attempt", attempt+1, "error", err)
		}
	}
	return r.fallbackDiagnose(ctx, capture)
}

func (r *Resilient) fallbackDiagnose(ctx context.Context, capture model.FailureCapture) (Diagnosis, error) {
	d, err := r.fallback.Diagnose(ctx, capture)
	if err != nil {
		return Diagnosis{}, err
	}
	d.Origin = OriginFallback
	return d, nil
}
