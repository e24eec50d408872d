// Package feed turns raw sensor inputs into validated pipeline samples.
//
// A Source produces sense.Sample values from some transport (a serial NMEA
// receiver, a recorded trace); Pump validates them at the ingestion boundary
// and forwards survivors into the engine's sample channel. Invalid samples
// are dropped and logged, never delivered.
package feed

import (
	"context"

	"github.com/daylight-data/exposure.report/internal/monitoring"
	"github.com/daylight-data/exposure.report/internal/sense"
)

// Source is a sensor input. Run produces samples on out until the context is
// cancelled or the underlying transport fails.
type Source interface {
	Name() string
	Run(ctx context.Context, out chan<- sense.Sample) error
}

// Validate applies the per-channel ingestion checks to a sample.
func Validate(s sense.Sample) error {
	switch {
	case s.GPS != nil:
		return s.GPS.Validate()
	case s.Motion != nil:
		return s.Motion.Validate()
	case s.Pressure != nil:
		return s.Pressure.Validate()
	}
	return errEmptySample
}

type emptySampleError struct{}

func (emptySampleError) Error() string { return "sample has no channel set" }

var errEmptySample = emptySampleError{}

// Pump runs a source and forwards its valid samples into sink. It returns
// when the source stops; the source's error is passed through.
func Pump(ctx context.Context, src Source, sink chan<- sense.Sample) error {
	out := make(chan sense.Sample, 16)
	done := make(chan error, 1)
	go func() {
		done <- src.Run(ctx, out)
		close(out)
	}()

	var dropped int
	for s := range out {
		if err := Validate(s); err != nil {
			dropped++
			monitoring.Debugf("feed: %s: dropping sample: %v", src.Name(), err)
			continue
		}
		select {
		case sink <- s:
		case <-ctx.Done():
		}
	}
	if dropped > 0 {
		monitoring.Logf("feed: %s dropped %d invalid samples", src.Name(), dropped)
	}
	return <-done
}
