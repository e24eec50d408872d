package sense

import (
	"testing"
	"time"

	"github.com/daylight-data/exposure.report/internal/config"
	"github.com/daylight-data/exposure.report/internal/timeutil"
)

func newTestTunnel() (*TunnelGuard, *timeutil.ManualClock) {
	clock := timeutil.NewManualClock(senseEpoch)
	return NewTunnelGuard(config.EmptyTuningConfig(), clock), clock
}

func movingFix(clock *timeutil.ManualClock, accuracy, speed float64) GPSSample {
	return GPSSample{
		Time:      clock.Now(),
		Lat:       40.0,
		Lon:       -74.0,
		AccuracyM: accuracy,
		SpeedMPS:  speed,
		HasSpeed:  true,
	}
}

func rawOutside() Classification {
	return Classification{Mode: ModeOutside, Confidence: 0.7, Source: SourceAccuracy}
}

// enterTunnel drives the guard through a good-accuracy fix followed by an
// accuracy collapse at speed.
func enterTunnel(t *testing.T, g *TunnelGuard, clock *timeutil.ManualClock) {
	t.Helper()
	g.Apply(rawOutside(), movingFix(clock, 10, 20), ModeVehicle)
	clock.Advance(5 * time.Second)
	got := g.Apply(rawOutside(), movingFix(clock, 150, 20), ModeVehicle)
	if !g.State().Active {
		t.Fatalf("tunnel not entered: %+v", got)
	}
}

func TestTunnelFreezesPriorMode(t *testing.T) {
	g, clock := newTestTunnel()

	g.Apply(rawOutside(), movingFix(clock, 10, 20), ModeVehicle)
	clock.Advance(5 * time.Second)

	got := g.Apply(rawOutside(), movingFix(clock, 150, 20), ModeVehicle)
	if got.Mode != ModeVehicle || got.Source != SourceTunnel {
		t.Fatalf("entry classification = %+v, want frozen vehicle", got)
	}
	if got.Confidence != 0.80 {
		t.Errorf("frozen confidence = %f, want 0.80", got.Confidence)
	}
}

func TestTunnelEntryRequiresVehicleMode(t *testing.T) {
	g, clock := newTestTunnel()

	g.Apply(rawOutside(), movingFix(clock, 10, 20), ModeOutside)
	clock.Advance(5 * time.Second)
	got := g.Apply(rawOutside(), movingFix(clock, 150, 20), ModeOutside)

	if g.State().Active || got.Source == SourceTunnel {
		t.Errorf("tunnel entered from outside mode: %+v", got)
	}
}

func TestTunnelEntryRequiresSpeed(t *testing.T) {
	g, clock := newTestTunnel()

	g.Apply(rawOutside(), movingFix(clock, 10, 20), ModeVehicle)
	clock.Advance(5 * time.Second)
	got := g.Apply(rawOutside(), movingFix(clock, 150, 2), ModeVehicle)

	if g.State().Active || got.Source == SourceTunnel {
		t.Errorf("tunnel entered at walking speed: %+v", got)
	}
}

func TestTunnelRecovery(t *testing.T) {
	g, clock := newTestTunnel()
	enterTunnel(t, g, clock)

	// Accuracy recovers: the first two good fixes stay frozen, the third
	// exits and passes the raw classification through.
	for i := 0; i < 2; i++ {
		clock.Advance(5 * time.Second)
		got := g.Apply(rawOutside(), movingFix(clock, 30, 20), ModeVehicle)
		if got.Source != SourceTunnel {
			t.Fatalf("recovery fix %d exited early: %+v", i, got)
		}
	}

	clock.Advance(5 * time.Second)
	got := g.Apply(rawOutside(), movingFix(clock, 30, 20), ModeVehicle)
	if got.Source == SourceTunnel || g.State().Active {
		t.Errorf("tunnel not exited after recovery run: %+v", got)
	}
}

func TestTunnelRecoveryRunResetsOnPoorFix(t *testing.T) {
	g, clock := newTestTunnel()
	enterTunnel(t, g, clock)

	clock.Advance(5 * time.Second)
	g.Apply(rawOutside(), movingFix(clock, 30, 20), ModeVehicle)
	clock.Advance(5 * time.Second)
	g.Apply(rawOutside(), movingFix(clock, 30, 20), ModeVehicle)

	// A poor fix interrupts the run; two more good fixes are not enough.
	clock.Advance(5 * time.Second)
	g.Apply(rawOutside(), movingFix(clock, 200, 20), ModeVehicle)
	clock.Advance(5 * time.Second)
	g.Apply(rawOutside(), movingFix(clock, 30, 20), ModeVehicle)
	clock.Advance(5 * time.Second)
	got := g.Apply(rawOutside(), movingFix(clock, 30, 20), ModeVehicle)

	if got.Source != SourceTunnel || !g.State().Active {
		t.Errorf("recovery run survived a poor fix: %+v", got)
	}
}

func TestTunnelTimeout(t *testing.T) {
	g, clock := newTestTunnel()
	enterTunnel(t, g, clock)

	clock.Advance(11 * time.Minute)
	raw := rawOutside()
	got := g.Apply(raw, movingFix(clock, 150, 20), ModeVehicle)

	if g.State().Active {
		t.Fatal("tunnel survived the hard timeout")
	}
	if got != raw {
		t.Errorf("post-timeout classification = %+v, want raw passthrough", got)
	}
}
