package feed

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"go.bug.st/serial"

	"github.com/daylight-data/exposure.report/internal/monitoring"
	"github.com/daylight-data/exposure.report/internal/sense"
	"github.com/daylight-data/exposure.report/internal/timeutil"
)

// Porter is the minimal interface the GPS source needs from a serial port.
// The abstraction exists so tests can feed recorded sentences without
// hardware.
type Porter interface {
	io.ReadCloser
}

// SerialGPS reads NMEA sentences from a serial receiver and emits GPS and
// pressure samples.
type SerialGPS struct {
	name   string
	port   Porter
	parser *NMEAParser
}

// OpenSerialGPS opens the receiver at path. Standard consumer receivers talk
// 9600 8N1.
func OpenSerialGPS(path string, baud int, clock timeutil.Clock) (*SerialGPS, error) {
	if baud <= 0 {
		baud = 9600
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return NewSerialGPS(path, port, clock), nil
}

// NewSerialGPS wraps an already open port.
func NewSerialGPS(name string, port Porter, clock timeutil.Clock) *SerialGPS {
	return &SerialGPS{name: name, port: port, parser: NewNMEAParser(clock)}
}

func (s *SerialGPS) Name() string { return "serial:" + s.name }

// Run scans sentences until the port closes or the context is cancelled.
// Unparseable sentences are logged and skipped; a healthy receiver emits
// the odd corrupt line and that must not kill the feed.
func (s *SerialGPS) Run(ctx context.Context, out chan<- sense.Sample) error {
	go func() {
		<-ctx.Done()
		s.port.Close()
	}()

	scanner := bufio.NewScanner(s.port)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		sample, err := s.parser.ParseSentence(line)
		if err != nil {
			monitoring.Debugf("feed: %s: %v", s.Name(), err)
			continue
		}
		if sample == nil {
			continue
		}
		select {
		case out <- *sample:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", s.name, err)
	}
	return nil
}
