package tui

import (
	"bufio"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/switchboard/internal/events"
)

// ReadSSE parses a text/event-stream body and calls fn once per complete
// frame. Comment lines and frames without data are dropped. Multiple data
// lines in one frame are joined with newlines. It returns when r is
// exhausted, the scanner fails, or fn returns an error.
func ReadSSE(r io.Reader, fn func(events.Event) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var (
		cur  events.Event
		data []string
	)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if len(data) > 0 {
				cur.At = time.Now().UTC()
				cur.Data = json.RawMessage(strings.Join(data, "\n"))
				if err := fn(cur); err != nil {
					return err
				}
			}
			cur, data = events.Event{}, nil
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			if id, err := strconv.ParseInt(value, 10, 64); err == nil {
				cur.ID = id
			}
		case "event":
			cur.Type = value
		case "data":
			data = append(data, value)
		}
	}
	return scanner.Err()
}
