package decoder

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/coldbell/tradelens/backend/internal/trade"
)

const ProgramDataPrefix = "Program data: "

// Failure records one log line that could not be turned into an event.
type Failure struct {
	Line int
	Err  error
}

// Result holds the events of one transaction in log order plus the lines
// that were skipped.
type Result struct {
	Events   []Event
	Failures []Failure
}

// ExtractPayload returns the binary record carried by a program data line.
// ok is false for lines that are not program data at all.
func ExtractPayload(line string) (payload []byte, ok bool, err error) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, ProgramDataPrefix) {
		return nil, false, nil
	}
	body := strings.TrimSpace(strings.TrimPrefix(trimmed, ProgramDataPrefix))
	if body == "" {
		return nil, true, ErrEmpty
	}

	// Some emitters split one record across space separated chunks.
	if fields := strings.Fields(body); len(fields) > 1 {
		body = fields[0]
	}

	if strings.HasPrefix(body, "0x") {
		decoded, decodeErr := hex.DecodeString(strings.TrimPrefix(body, "0x"))
		if decodeErr != nil {
			return nil, true, fmt.Errorf("%w: program data hex: %v", trade.ErrDecodeFailure, decodeErr)
		}
		return decoded, true, nil
	}
	if decoded, decodeErr := base64.StdEncoding.DecodeString(body); decodeErr == nil {
		return decoded, true, nil
	}
	if decoded, decodeErr := base64.RawStdEncoding.DecodeString(body); decodeErr == nil {
		return decoded, true, nil
	}
	if decoded, decodeErr := hex.DecodeString(body); decodeErr == nil {
		return decoded, true, nil
	}
	return nil, true, fmt.Errorf("%w: program data is neither base64 nor hex", trade.ErrDecodeFailure)
}

// DecodeLogs decodes every program data line of one transaction. A bad line
// is recorded as a failure and never stops the rest of the transaction.
func (d *Decoder) DecodeLogs(lines []string) Result {
	result := Result{Events: make([]Event, 0, len(lines))}
	for i, line := range lines {
		payload, ok, err := ExtractPayload(line)
		if !ok {
			continue
		}
		if err != nil {
			result.Failures = append(result.Failures, Failure{Line: i, Err: err})
			continue
		}
		event, err := d.Decode(payload)
		if err != nil {
			result.Failures = append(result.Failures, Failure{Line: i, Err: err})
			continue
		}
		result.Events = append(result.Events, event)
	}
	return result
}
