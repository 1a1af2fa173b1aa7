package opencode

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// readSSEEvents scans r for Server-Sent Events framed as one or more
// "data: " lines terminated by a blank line, decoding each event's
// accumulated data payload as an eventEnvelope and sending it on out.
// Lines that are not a recognised SSE field (comments, "event:", "id:")
// are ignored; only "data:" is consumed here since OpenCode encodes the
// full envelope as a single JSON blob per event.
func readSSEEvents(r io.Reader, out chan<- eventEnvelope) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var dataLines []string
	flush := func() error {
		if len(dataLines) == 0 {
			return nil
		}
		payload := strings.Join(dataLines, "\n")
		dataLines = dataLines[:0]
		var env eventEnvelope
		if err := json.Unmarshal([]byte(payload), &env); err != nil {
			return nil // malformed event: skip rather than abort the whole stream
		}
		out <- env
		return nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if err := flush(); err != nil {
				return err
			}
			continue
		}
		if after, ok := strings.CutPrefix(line, "data:"); ok {
			dataLines = append(dataLines, strings.TrimPrefix(after, " "))
		}
		// other fields (event:, id:, retry:, comments) are not used by
		// OpenCode's event protocol and are ignored.
	}
	flush()
	return scanner.Err()
}
