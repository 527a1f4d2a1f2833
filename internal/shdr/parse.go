package shdr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Heartbeat tokens exchanged between a reader and the adapter.
const (
	PingRequest = "* PING"
	PongPrefix  = "* PONG"
)

// ErrMalformedLine is returned for lines that cannot be split into
// name/value groups.
var ErrMalformedLine = errors.New("malformed shdr line")

// Pong returns the heartbeat reply advertising interval.
func Pong(interval time.Duration) []byte {
	return []byte(PongPrefix + " " + strconv.FormatInt(interval.Milliseconds(), 10) + "\n")
}

// ParsePong extracts the advertised interval from a "* PONG <ms>" line.
func ParsePong(line string) (time.Duration, bool) {
	rest, ok := strings.CutPrefix(strings.TrimRight(line, "\r\n"), PongPrefix)
	if !ok {
		return 0, false
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
	if err != nil || ms < 0 {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}

// Observation is one item reported on a line. Condition is set for
// condition items, in which case Value holds the level.
type Observation struct {
	Name      string
	Value     string
	Condition *Alarm
}

// Line is a parsed data line.
type Line struct {
	Timestamp    string
	Observations []Observation
}

// ParseLine parses "timestamp|name|value|..." lines. A name followed by a
// level keyword and four more fields is read as a condition; everything
// else is read as name|value.
func ParseLine(raw string) (Line, error) {
	raw = strings.TrimRight(raw, "\r\n")
	fields := strings.Split(raw, "|")
	if len(fields) < 3 {
		return Line{}, fmt.Errorf("%w: %q", ErrMalformedLine, raw)
	}

	line := Line{Timestamp: fields[0]}
	for i := 1; i < len(fields); {
		if i+1 >= len(fields) {
			return Line{}, fmt.Errorf("%w: dangling field %q", ErrMalformedLine, fields[i])
		}
		name, value := fields[i], fields[i+1]
		if looksLikeCondition(fields[i+1:]) {
			line.Observations = append(line.Observations, Observation{
				Name:  name,
				Value: value,
				Condition: &Alarm{
					Level:          Level(value),
					NativeCode:     fields[i+2],
					NativeSeverity: fields[i+3],
					Qualifier:      fields[i+4],
					Text:           fields[i+5],
				},
			})
			i += 6
			continue
		}
		line.Observations = append(line.Observations, Observation{Name: name, Value: value})
		i += 2
	}
	return line, nil
}

// looksLikeCondition inspects the fields following an item name.
func looksLikeCondition(rest []string) bool {
	if len(rest) < 5 || !IsLevel(rest[0]) {
		return false
	}
	if rest[0] != Unavailable {
		return true
	}
	// An UNAVAILABLE event followed by other items is far more common than
	// an UNAVAILABLE condition with any detail fields set.
	return rest[1] == "" && rest[2] == "" && rest[3] == "" && rest[4] == ""
}

// AssetHeader is the first line of a multiline asset block.
type AssetHeader struct {
	Timestamp string
	ID        string
	Type      string
	Boundary  string
}

// ParseAssetHeader recognises "timestamp|@ASSET@|id|type|--multiline--TOKEN".
func ParseAssetHeader(raw string) (AssetHeader, bool) {
	fields := strings.Split(strings.TrimRight(raw, "\r\n"), "|")
	if len(fields) != 5 || fields[1] != assetKeyword || !strings.HasPrefix(fields[4], multilinePrefix) {
		return AssetHeader{}, false
	}
	return AssetHeader{
		Timestamp: fields[0],
		ID:        fields[2],
		Type:      fields[3],
		Boundary:  fields[4],
	}, true
}
