// Package reconcile compares predicted vs. authoritative state and
// replays unacknowledged inputs.
package reconcile

import (
	"errors"

	"netherlink/inputbuffer"
	"netherlink/predict"
	"netherlink/transform"
)

// DefaultThreshold is the position-error threshold below which no
// reconciliation action is taken.
const DefaultThreshold = 0.1

// ErrReconciliationUnsupported is returned (with the server transform
// unchanged) when full reconciliation is requested without a predictor
// or input buffer configured.
var ErrReconciliationUnsupported = errors.New("reconcile: predictor or input buffer unavailable")

// Stats accumulates reconciliation telemetry.
type Stats struct {
	ReconciliationCount int
	AccumulatedError    float64
}

// Reconciler holds the threshold and accumulated stats; Predictor and
// InputBuffer are supplied per-entity by the caller (the orchestrator),
// since each entity owns its own input buffer.
type Reconciler struct {
	Threshold float64
	stats     Stats
}

func New(threshold float64) *Reconciler {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Reconciler{Threshold: threshold}
}

// Stats returns a copy of the accumulated reconciliation telemetry.
func (r *Reconciler) Stats() Stats {
	return r.stats
}

// Reconcile compares predicted against authoritative state: if the
// positional error against serverTransform is below Threshold, the
// client transform is returned unchanged; otherwise unprocessed inputs
// (sequence > lastProcessedInputSequence) are replayed on top of
// serverTransform using predictor.
func (r *Reconciler) Reconcile(
	clientTransform, serverTransform transform.Transform,
	lastProcessedInputSequence uint64,
	inputs *inputbuffer.Buffer,
	predictor *predict.Predictor,
) (transform.Transform, error) {
	errDist := clientTransform.Position.Distance(serverTransform.Position)

	if errDist < r.Threshold {
		return clientTransform, nil
	}

	if predictor == nil || inputs == nil {
		return serverTransform, ErrReconciliationUnsupported
	}

	inputs.MarkProcessed(lastProcessedInputSequence)
	unprocessed := inputs.GetAfter(lastProcessedInputSequence)

	seedTs, haveSeed := 0.0, false
	if ackRecord, ok := inputs.Get(lastProcessedInputSequence); ok {
		seedTs, haveSeed = ackRecord.TimestampMs, true
	}
	reconciled, _ := predictor.PredictSequenceFrom(unprocessed, serverTransform, seedTs, haveSeed)

	r.stats.ReconciliationCount++
	r.stats.AccumulatedError += errDist

	return reconciled, nil
}

// QuickCorrect is the cheaper alternative path used
// when a full replay is not warranted: a direct lerp/slerp from client
// toward server with t = min(error/5.0, 0.5).
func QuickCorrect(clientTransform, serverTransform transform.Transform) transform.Transform {
	errDist := clientTransform.Position.Distance(serverTransform.Position)
	t := errDist / 5.0
	if t > 0.5 {
		t = 0.5
	}
	return clientTransform.Lerp(serverTransform, t)
}
