package feed

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/daylight-data/exposure.report/internal/sense"
	"github.com/daylight-data/exposure.report/internal/timeutil"
)

// mockPort replays a fixed byte stream as if read from a receiver.
type mockPort struct {
	io.Reader
}

func (mockPort) Close() error { return nil }

func TestSerialGPSParsesStream(t *testing.T) {
	stream := strings.Join([]string{
		"$GPGGA,170000,4042.768,N,07400.360,W,1,08,0.9,10.0,M,46.9,M,,*60",
		"$GPRMC,170000,A,4042.768,N,07400.360,W,3.0,084.4,150626,,*09",
		"$GARBAGE*00", // corrupt line mid-stream must not kill the feed
		"$PGRMZ,328,f,3*12",
		"$GPRMC,170002,A,4042.768,N,07400.360,W,,084.4,150626,,*26",
	}, "\r\n") + "\r\n"

	src := NewSerialGPS("mock", mockPort{strings.NewReader(stream)}, timeutil.NewManualClock(parserEpoch))
	out := make(chan sense.Sample, 16)
	if err := src.Run(context.Background(), out); err != nil {
		t.Fatal(err)
	}
	close(out)

	var gps, pressure int
	for s := range out {
		switch {
		case s.GPS != nil:
			gps++
		case s.Pressure != nil:
			pressure++
		}
	}
	if gps != 2 || pressure != 1 {
		t.Errorf("got %d gps and %d pressure samples, want 2 and 1", gps, pressure)
	}
}

func TestSerialGPSStopsOnCancel(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	src := NewSerialGPS("mock", mockPort{r}, timeutil.NewManualClock(parserEpoch))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	out := make(chan sense.Sample, 1)
	go func() { done <- src.Run(ctx, out) }()

	cancel()
	r.CloseWithError(context.Canceled)
	if err := <-done; err == nil {
		t.Fatal("Run returned nil after cancellation")
	}
}
