package sense

import (
	"testing"
	"time"

	"github.com/daylight-data/exposure.report/internal/config"
	"github.com/daylight-data/exposure.report/internal/timeutil"
)

func newTestLock() (*ModeLock, *Voter, *timeutil.ManualClock) {
	cfg := config.EmptyTuningConfig()
	clock := timeutil.NewManualClock(senseEpoch)
	voter := NewVoter(cfg, clock)
	return NewModeLock(cfg, clock, voter), voter, clock
}

// buildAgreement records an unbroken agreement run from alternating sources,
// enough to satisfy lock formation.
func buildAgreement(v *Voter, clock *timeutil.ManualClock, mode Mode, samples int, sources []Source) {
	for i := 0; i < samples; i++ {
		v.Record(clock.Now(), Classification{
			Mode:       mode,
			Confidence: 0.88,
			Source:     sources[i%len(sources)],
		})
		clock.Advance(10 * time.Second)
	}
}

func outsideStable() Classification {
	return Classification{Mode: ModeOutside, Confidence: 0.88, Source: SourceZone}
}

func formOutsideLock(t *testing.T, l *ModeLock, v *Voter, clock *timeutil.ManualClock) {
	t.Helper()
	buildAgreement(v, clock, ModeOutside, 8, []Source{SourceZone, SourceAccuracy})
	l.Apply(outsideStable(), 100)
	if !l.State().Locked {
		t.Fatal("lock did not form from 8 two-source samples")
	}
}

func TestLockForms(t *testing.T) {
	l, v, clock := newTestLock()
	formOutsideLock(t, l, v, clock)

	state := l.State()
	if state.Mode != ModeOutside {
		t.Errorf("locked mode = %s, want outside", state.Mode)
	}
	if state.Confidence != 0.88 {
		t.Errorf("lock confidence = %f, want 0.88", state.Confidence)
	}
}

func TestLockNeedsEnoughSamples(t *testing.T) {
	l, v, clock := newTestLock()
	buildAgreement(v, clock, ModeOutside, 5, []Source{SourceZone, SourceAccuracy})

	l.Apply(outsideStable(), 100)
	if l.State().Locked {
		t.Error("lock formed from 5 samples, want 8 minimum")
	}
}

func TestLockNeedsTwoSources(t *testing.T) {
	l, v, clock := newTestLock()
	buildAgreement(v, clock, ModeOutside, 10, []Source{SourceZone})

	l.Apply(outsideStable(), 100)
	if l.State().Locked {
		t.Error("lock formed from a single source")
	}
}

func TestLockNearBuildingNeedsStrongSource(t *testing.T) {
	t.Run("weak sources rejected", func(t *testing.T) {
		l, v, clock := newTestLock()
		buildAgreement(v, clock, ModeOutside, 10, []Source{SourceZone, SourceAccuracy})

		l.Apply(outsideStable(), 20)
		if l.State().Locked {
			t.Error("weak-source lock formed 20m from a building")
		}
	})

	t.Run("strong source accepted", func(t *testing.T) {
		l, v, clock := newTestLock()
		buildAgreement(v, clock, ModeOutside, 10, []Source{SourceZone, SourceGeofence})

		l.Apply(outsideStable(), 20)
		if !l.State().Locked {
			t.Error("geofence-backed lock did not form near a building")
		}
	})
}

func TestLockHoldsAgainstWeakOpposition(t *testing.T) {
	l, v, clock := newTestLock()
	formOutsideLock(t, l, v, clock)

	weak := Classification{Mode: ModeInside, Confidence: 0.70, Source: SourceZone}
	got := l.Apply(weak, 100)

	if got.Mode != ModeOutside {
		t.Fatalf("lock yielded to 0.70 opposition: %+v", got)
	}
	if !l.State().Locked {
		t.Error("lock state cleared by weak opposition")
	}
}

func TestLockReleasesOnStrongOpposition(t *testing.T) {
	l, v, clock := newTestLock()
	formOutsideLock(t, l, v, clock)

	strong := Classification{Mode: ModeInside, Confidence: 0.95, Source: SourcePolygon}
	got := l.Apply(strong, 100)

	if got.Mode != ModeInside {
		t.Fatalf("strong opposition held back: %+v", got)
	}
	if state := l.State(); state.Locked && state.Mode == ModeOutside {
		t.Error("outside lock survived a 0.95 inside classification")
	}
}

func TestLockIgnoresUnknown(t *testing.T) {
	l, v, clock := newTestLock()
	formOutsideLock(t, l, v, clock)

	unknown := Classification{Mode: ModeUnknown, Confidence: 0, Source: SourceStale}
	got := l.Apply(unknown, -1)

	if got.Mode != ModeOutside {
		t.Fatalf("unknown released the lock: %+v", got)
	}
	if !l.State().Locked {
		t.Error("lock state cleared by unknown")
	}
}

func TestLockAgreementRefreshesConfidence(t *testing.T) {
	l, v, clock := newTestLock()
	formOutsideLock(t, l, v, clock)

	better := Classification{Mode: ModeOutside, Confidence: 0.95, Source: SourceAccuracy}
	l.Apply(better, 100)

	if got := l.State().Confidence; got != 0.95 {
		t.Errorf("lock confidence = %f, want refreshed 0.95", got)
	}
}

func TestLockExpires(t *testing.T) {
	l, v, clock := newTestLock()
	formOutsideLock(t, l, v, clock)

	clock.Advance(11 * time.Minute)
	weak := Classification{Mode: ModeInside, Confidence: 0.70, Source: SourceZone}
	got := l.Apply(weak, 100)

	if got.Mode != ModeInside {
		t.Fatalf("expired lock still holding: %+v", got)
	}
	if state := l.State(); state.Locked && state.Mode == ModeOutside {
		t.Error("outside lock survived its max age")
	}
}
