package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/daylight-data/exposure.report/internal/sense"
)

// TraceEvent is one line of a recorded trace: a timestamp plus exactly one
// sensor channel.
type TraceEvent struct {
	Time     time.Time             `json:"time"`
	GPS      *sense.GPSSample      `json:"gps,omitempty"`
	Motion   *sense.MotionSample   `json:"motion,omitempty"`
	Pressure *sense.PressureSample `json:"pressure,omitempty"`
}

// Replay plays back a JSON-lines trace, preserving the recorded inter-event
// spacing scaled by Speed. Speed 0 (or negative) replays with no delays,
// which is what tests and batch reprocessing want.
type Replay struct {
	name string
	r    io.Reader

	// Speed is the playback multiplier: 1 is real time, 10 is ten times
	// faster than recorded.
	Speed float64
}

// OpenReplay opens a trace file for playback.
func OpenReplay(path string, speed float64) (*Replay, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open trace: %w", err)
	}
	return &Replay{name: path, r: f, Speed: speed}, f, nil
}

// NewReplay plays back a trace from r.
func NewReplay(name string, r io.Reader, speed float64) *Replay {
	return &Replay{name: name, r: r, Speed: speed}
}

func (p *Replay) Name() string { return "replay:" + p.name }

// Run emits the trace's events in order. Malformed lines abort the replay:
// a trace is a curated artifact, not a noisy sensor.
func (p *Replay) Run(ctx context.Context, out chan<- sense.Sample) error {
	scanner := bufio.NewScanner(p.r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var prev time.Time
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var ev TraceEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return fmt.Errorf("trace %s line %d: %w", p.name, line, err)
		}

		if p.Speed > 0 && !prev.IsZero() && ev.Time.After(prev) {
			delay := time.Duration(float64(ev.Time.Sub(prev)) / p.Speed)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		prev = ev.Time

		s, err := ev.sample()
		if err != nil {
			return fmt.Errorf("trace %s line %d: %w", p.name, line, err)
		}
		select {
		case out <- s:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return scanner.Err()
}

func (ev TraceEvent) sample() (sense.Sample, error) {
	var s sense.Sample
	n := 0
	if ev.GPS != nil {
		s.GPS = ev.GPS
		n++
	}
	if ev.Motion != nil {
		s.Motion = ev.Motion
		n++
	}
	if ev.Pressure != nil {
		s.Pressure = ev.Pressure
		n++
	}
	if n != 1 {
		return s, fmt.Errorf("event has %d channels, want exactly 1", n)
	}
	// Trace events commonly omit the channel timestamp; inherit the event
	// time.
	switch {
	case s.GPS != nil && s.GPS.Time.IsZero():
		s.GPS.Time = ev.Time
	case s.Motion != nil && s.Motion.Time.IsZero():
		s.Motion.Time = ev.Time
	case s.Pressure != nil && s.Pressure.Time.IsZero():
		s.Pressure.Time = ev.Time
	}
	return s, nil
}
