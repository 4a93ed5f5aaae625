package llm

import (
	"bufio"
	"io"
	"strings"
)

// sseEvent is a single server-sent event.
type sseEvent struct {
	Type string
	Data string
}

// sseReader parses server-sent events from a response body.
type sseReader struct {
	scanner *bufio.Scanner
}

const maxSSELine = 1024 * 1024

func newSSEReader(r io.Reader) *sseReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxSSELine)
	return &sseReader{scanner: s}
}

// Next returns the next event, or io.EOF when the stream ends.
func (r *sseReader) Next() (*sseEvent, error) {
	var ev sseEvent
	var data []string
	has := false

	for r.scanner.Scan() {
		line := r.scanner.Text()
		if line == "" {
			if has {
				ev.Data = strings.Join(data, "\n")
				return &ev, nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.Type = value
			has = true
		case "data":
			data = append(data, value)
			has = true
		}
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	if has {
		ev.Data = strings.Join(data, "\n")
		return &ev, nil
	}
	return nil, io.EOF
}
