package parser

import (
	"fmt"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/logflow/bcilog/internal/model"
)

// LineParser decodes single transcript lines. It holds no per-line state and
// is safe for concurrent use.
type LineParser struct {
	markers Markers
}

// NewLineParser creates a line parser recognising the given markers.
func NewLineParser(markers Markers) *LineParser {
	return &LineParser{markers: markers}
}

// ParseLine decodes one line. On success the record carries the server
// receipt stamp and sender identity found on the line. Any missing or
// malformed field rejects the whole line with one of the package's
// sentinel errors.
func (p *LineParser) ParseLine(line string) (model.Record, error) {
	line = strings.TrimRight(line, " \t\r\n")
	body, sender := splitSender(line)

	var (
		rec model.Record
		err error
	)
	switch p.detectKind(body) {
	case model.KindStimulus:
		rec, err = parseStimulus(body)
	case model.KindData:
		rec, err = parseDataPacket(body)
	case model.KindModeChange:
		rec, err = parseModeChange(body)
	default:
		return model.Record{}, ErrNoMarker
	}
	if err != nil {
		return model.Record{}, err
	}

	if !model.ValidTimestamp(rec.RawTimestamp) {
		rec.RawTimestamp = model.NoTimestamp
		rec.Timestamp = float64(model.NoTimestamp)
	}
	rec.ServerTimestamp = serverTimestamp(line)
	rec.SenderID = sender
	return rec, nil
}

// detectKind checks the markers in a fixed order: stimulus, data, mode.
func (p *LineParser) detectKind(body string) model.Kind {
	switch {
	case findToken(body, p.markers.Stimulus) >= 0:
		return model.KindStimulus
	case findToken(body, p.markers.Data) >= 0:
		return model.KindData
	case findToken(body, p.markers.Mode) >= 0:
		return model.KindModeChange
	default:
		return model.KindUnknown
	}
}

// serverTimestamp reads the "sts:<int>" line prefix.
func serverTimestamp(line string) int64 {
	const prefix = "sts:"
	if !strings.HasPrefix(line, prefix) {
		return model.NoTimestamp
	}
	v, end, ok := readInt(line, len(prefix))
	if !ok || end >= len(line) || isWordByte(line[end]) || !model.ValidTimestamp(v) {
		return model.NoTimestamp
	}
	return v
}

// shapedPayload locates "[dims]:payload" after the client timestamp. Only
// separators and an optional 'v' may sit between the timestamp and '['.
func shapedPayload(body string, from int) ([]int, string, error) {
	open := strings.IndexByte(body[from:], '[')
	if open < 0 {
		return nil, "", ErrMalformedShape
	}
	open += from

	gap := strings.TrimSuffix(body[from:open], "v")
	for i := 0; i < len(gap); i++ {
		if isWordByte(gap[i]) {
			return nil, "", ErrMalformedShape
		}
	}

	closing := strings.IndexByte(body[open:], ']')
	if closing < 0 {
		return nil, "", ErrMalformedShape
	}
	closing += open
	if closing+1 >= len(body) || body[closing+1] != ':' {
		return nil, "", ErrMalformedShape
	}

	dims, err := parseDims(body[open+1 : closing])
	if err != nil {
		return nil, "", err
	}
	return dims, body[closing+2:], nil
}

// parseDims parses an x-separated list of positive integers such as "2x3".
func parseDims(s string) ([]int, error) {
	if s == "" {
		return nil, ErrMalformedShape
	}
	parts := strings.Split(s, "x")
	dims := make([]int, len(parts))
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: dimension %q", ErrMalformedShape, part)
		}
		dims[i] = n
	}
	return dims, nil
}

func parseStimulus(body string) (model.Record, error) {
	ts, end, ok := readFieldInt(body, "ts")
	if !ok {
		return model.Record{}, ErrMissingTimestamp
	}
	_, payload, err := shapedPayload(body, end)
	if err != nil {
		return model.Record{}, err
	}

	// {id,state,id,state,...}; '}' also separates consecutive groups.
	payload = strings.ReplaceAll(payload, "{", "")
	payload = strings.ReplaceAll(payload, "}", ",")
	items := splitValues(payload)
	if len(items)%2 != 0 {
		return model.Record{}, fmt.Errorf("%w: odd number of stimulus entries (%d)", ErrMalformedPayload, len(items))
	}

	objectIDs := make([]int64, 0, len(items)/2)
	states := make([]int64, 0, len(items)/2)
	for i, item := range items {
		v, err := strconv.ParseInt(item, 10, 64)
		if err != nil {
			return model.Record{}, fmt.Errorf("%w: %q", ErrMalformedPayload, item)
		}
		if i%2 == 0 {
			objectIDs = append(objectIDs, v)
		} else {
			states = append(states, v)
		}
	}
	return model.NewStimulus(ts, objectIDs, states), nil
}

func parseDataPacket(body string) (model.Record, error) {
	ts, end, ok := readFieldInt(body, "ts")
	if !ok {
		return model.Record{}, ErrMissingTimestamp
	}
	dims, payload, err := shapedPayload(body, end)
	if err != nil {
		return model.Record{}, err
	}
	if len(dims) != 2 {
		return model.Record{}, fmt.Errorf("%w: want 2 dimensions, got %d", ErrMalformedShape, len(dims))
	}
	// The fastest varying dimension is written first: channels x samples.
	channels, rows := dims[0], dims[1]

	payload = strings.ReplaceAll(payload, "[", "")
	payload = strings.ReplaceAll(payload, "]", "")
	items := splitValues(payload)
	if len(items) != rows*channels {
		return model.Record{}, fmt.Errorf("%w: %d values for shape %dx%d", ErrMalformedPayload, len(items), channels, rows)
	}

	values := make([]float64, len(items))
	for i, item := range items {
		v, err := strconv.ParseFloat(item, 64)
		if err != nil {
			return model.Record{}, fmt.Errorf("%w: %q", ErrMalformedPayload, item)
		}
		values[i] = v
	}
	return model.NewDataPacket(ts, mat.NewDense(rows, channels, values)), nil
}

func parseModeChange(body string) (model.Record, error) {
	ts, end, ok := readFieldInt(body, "ts")
	if !ok {
		return model.Record{}, ErrMissingTimestamp
	}
	i := strings.Index(body[end:], "mode:")
	if i < 0 {
		return model.Record{}, ErrMissingMode
	}
	mode := strings.TrimSpace(body[end+i+len("mode:"):])
	if mode == "" {
		return model.Record{}, ErrMissingMode
	}
	return model.NewModeChange(ts, mode), nil
}
