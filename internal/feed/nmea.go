package feed

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/daylight-data/exposure.report/internal/sense"
	"github.com/daylight-data/exposure.report/internal/timeutil"
)

const (
	knotsToMPS = 0.514444
	feetToM    = 0.3048

	// hdopUEREM converts a receiver HDOP into an approximate horizontal
	// accuracy in meters, assuming a consumer-grade user equivalent range
	// error.
	hdopUEREM = 5.0

	// defaultAccuracyM is assumed for RMC fixes seen before the first GGA
	// sentence of the session.
	defaultAccuracyM = 15.0
)

// NMEAParser converts a stream of NMEA 0183 sentences into samples. RMC
// sentences carry position and speed, GGA carries the fix quality used for
// accuracy, and PGRMZ carries barometric altitude. A parser holds the small
// amount of cross-sentence state (last HDOP, pressure baseline) and is not
// safe for concurrent use.
type NMEAParser struct {
	clock         timeutil.Clock
	lastAccuracyM float64

	baselineSet  bool
	baselineAltM float64
}

func NewNMEAParser(clock timeutil.Clock) *NMEAParser {
	return &NMEAParser{clock: clock, lastAccuracyM: defaultAccuracyM}
}

// ParseSentence parses one sentence. It returns (nil, nil) for sentence
// types that carry no sample (or a GGA, which only updates parser state),
// and an error for malformed input including checksum failures.
func (p *NMEAParser) ParseSentence(line string) (*sense.Sample, error) {
	body, err := checkFrame(line)
	if err != nil {
		return nil, err
	}
	fields := strings.Split(body, ",")

	switch talkerType(fields[0]) {
	case "RMC":
		return p.parseRMC(fields)
	case "GGA":
		return nil, p.parseGGA(fields)
	case "PGRMZ":
		return p.parsePGRMZ(fields)
	}
	return nil, nil
}

// checkFrame strips the $...*hh framing and verifies the XOR checksum,
// returning the sentence body.
func checkFrame(line string) (string, error) {
	line = strings.TrimRight(line, "\r\n")
	if len(line) < 4 || line[0] != '$' {
		return "", fmt.Errorf("not an nmea sentence: %q", line)
	}
	star := strings.LastIndexByte(line, '*')
	if star < 0 || len(line)-star != 3 {
		return "", fmt.Errorf("missing checksum: %q", line)
	}
	body := line[1:star]

	want, err := strconv.ParseUint(line[star+1:], 16, 8)
	if err != nil {
		return "", fmt.Errorf("bad checksum field %q: %v", line[star+1:], err)
	}
	var sum byte
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}
	if sum != byte(want) {
		return "", fmt.Errorf("checksum mismatch: want %02X, computed %02X", want, sum)
	}
	return body, nil
}

// talkerType strips the two-letter talker prefix from standard sentence ids
// (GPRMC, GNRMC -> RMC) and leaves proprietary ids (PGRMZ) intact.
func talkerType(id string) string {
	if strings.HasPrefix(id, "P") {
		return id
	}
	if len(id) == 5 {
		return id[2:]
	}
	return id
}

// parseRMC handles the recommended-minimum sentence:
// RMC,hhmmss.ss,A,llll.ll,N,yyyyy.yy,W,speed_knots,course,ddmmyy,...
func (p *NMEAParser) parseRMC(f []string) (*sense.Sample, error) {
	if len(f) < 10 {
		return nil, fmt.Errorf("rmc: %d fields", len(f))
	}
	if f[2] != "A" {
		// Void fix. Not an error, just nothing usable.
		return nil, nil
	}
	at, err := parseNMEATime(f[9], f[1])
	if err != nil {
		return nil, fmt.Errorf("rmc time: %v", err)
	}
	lat, err := parseCoord(f[3], f[4])
	if err != nil {
		return nil, fmt.Errorf("rmc latitude: %v", err)
	}
	lon, err := parseCoord(f[5], f[6])
	if err != nil {
		return nil, fmt.Errorf("rmc longitude: %v", err)
	}

	s := &sense.GPSSample{
		Time:      at,
		Lat:       lat,
		Lon:       lon,
		AccuracyM: p.lastAccuracyM,
	}
	if f[7] != "" {
		knots, err := strconv.ParseFloat(f[7], 64)
		if err != nil {
			return nil, fmt.Errorf("rmc speed: %v", err)
		}
		s.SpeedMPS = knots * knotsToMPS
		s.HasSpeed = true
	}
	return &sense.Sample{GPS: s}, nil
}

// parseGGA handles the fix-data sentence, keeping only the HDOP:
// GGA,hhmmss,lat,N,lon,W,quality,numsat,hdop,alt,M,...
func (p *NMEAParser) parseGGA(f []string) error {
	if len(f) < 9 {
		return fmt.Errorf("gga: %d fields", len(f))
	}
	if f[6] == "" || f[6] == "0" {
		return nil // no fix, keep the previous accuracy
	}
	if f[8] == "" {
		return nil
	}
	hdop, err := strconv.ParseFloat(f[8], 64)
	if err != nil {
		return fmt.Errorf("gga hdop: %v", err)
	}
	if hdop > 0 {
		p.lastAccuracyM = hdop * hdopUEREM
	}
	return nil
}

// parsePGRMZ handles the Garmin barometric altitude sentence:
// PGRMZ,altitude,f,mode. The first reading establishes the baseline; later
// readings become relative altitudes against it.
func (p *NMEAParser) parsePGRMZ(f []string) (*sense.Sample, error) {
	if len(f) < 3 {
		return nil, fmt.Errorf("pgrmz: %d fields", len(f))
	}
	if f[1] == "" {
		return nil, nil
	}
	alt, err := strconv.ParseFloat(f[1], 64)
	if err != nil {
		return nil, fmt.Errorf("pgrmz altitude: %v", err)
	}
	if f[2] == "f" {
		alt *= feetToM
	}
	if !p.baselineSet {
		p.baselineSet = true
		p.baselineAltM = alt
	}
	return &sense.Sample{Pressure: &sense.PressureSample{
		Time:         p.clock.Now(),
		RelAltitudeM: alt - p.baselineAltM,
	}}, nil
}

// parseCoord converts ddmm.mmmm plus a hemisphere letter into decimal
// degrees.
func parseCoord(value, hemi string) (float64, error) {
	if value == "" || hemi == "" {
		return 0, fmt.Errorf("empty coordinate")
	}
	dot := strings.IndexByte(value, '.')
	if dot < 0 {
		dot = len(value)
	}
	if dot < 3 {
		return 0, fmt.Errorf("coordinate %q too short", value)
	}
	deg, err := strconv.ParseFloat(value[:dot-2], 64)
	if err != nil {
		return 0, err
	}
	min, err := strconv.ParseFloat(value[dot-2:], 64)
	if err != nil {
		return 0, err
	}
	coord := deg + min/60
	switch hemi {
	case "S", "W":
		coord = -coord
	case "N", "E":
	default:
		return 0, fmt.Errorf("bad hemisphere %q", hemi)
	}
	return coord, nil
}

// parseNMEATime combines a ddmmyy date with an hhmmss.ss time-of-day into a
// UTC timestamp.
func parseNMEATime(date, tod string) (time.Time, error) {
	if len(date) != 6 || len(tod) < 6 {
		return time.Time{}, fmt.Errorf("date %q time %q", date, tod)
	}
	day, err1 := strconv.Atoi(date[0:2])
	month, err2 := strconv.Atoi(date[2:4])
	year, err3 := strconv.Atoi(date[4:6])
	hour, err4 := strconv.Atoi(tod[0:2])
	minute, err5 := strconv.Atoi(tod[2:4])
	secs, err6 := strconv.ParseFloat(tod[4:], 64)
	for _, err := range []error{err1, err2, err3, err4, err5, err6} {
		if err != nil {
			return time.Time{}, err
		}
	}
	nsec := int((secs - float64(int(secs))) * 1e9)
	return time.Date(2000+year, time.Month(month), day, hour, minute, int(secs), nsec, time.UTC), nil
}
