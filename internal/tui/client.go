package tui

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/switchboard/internal/events"
)

type eventMsg events.Event

type healthMsg struct {
	Status             string `json:"status"`
	UptimeSeconds      int64  `json:"uptime_seconds"`
	ActionsLoaded      int    `json:"actions_loaded"`
	RegistryGeneration uint64 `json:"registry_generation"`
}

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{ err error }

type reconnectMsg struct{}

// stream is shared by every copy of the model so a reconnect resumes from the
// last event seen.
type stream struct {
	apiURL string
	apiKey string
	client *http.Client
	ch     chan events.Event
	lastID atomic.Int64
}

func newStream(apiURL, apiKey string) *stream {
	return &stream{
		apiURL: apiURL,
		apiKey: apiKey,
		client: &http.Client{},
		ch:     make(chan events.Event, 100),
	}
}

func (s *stream) authorize(req *http.Request) {
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
}

// subscribe connects to /events and feeds frames into the stream channel
// until the connection drops.
func (s *stream) subscribe() tea.Cmd {
	return func() tea.Msg {
		req, err := http.NewRequest(http.MethodGet, s.apiURL+"/events", nil)
		if err != nil {
			return errMsg(err)
		}
		s.authorize(req)
		req.Header.Set("Accept", "text/event-stream")
		if id := s.lastID.Load(); id > 0 {
			req.Header.Set("Last-Event-ID", strconv.FormatInt(id, 10))
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return sseDisconnectedMsg{err: err}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return sseDisconnectedMsg{err: fmt.Errorf("events stream: %s", resp.Status)}
		}

		err = ReadSSE(resp.Body, func(ev events.Event) error {
			s.lastID.Store(ev.ID)
			s.ch <- ev
			return nil
		})
		return sseDisconnectedMsg{err: err}
	}
}

// next waits for the next event from the channel.
func (s *stream) next() tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-s.ch)
	}
}

// fetchHealth queries the /healthz endpoint.
func (s *stream) fetchHealth() tea.Msg {
	client := &http.Client{Timeout: 2 * time.Second}
	req, err := http.NewRequest(http.MethodGet, s.apiURL+"/healthz", nil)
	if err != nil {
		return errMsg(err)
	}
	s.authorize(req)

	resp, err := client.Do(req)
	if err != nil {
		return errMsg(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errMsg(fmt.Errorf("healthz: %s", resp.Status))
	}

	var h healthMsg
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return errMsg(err)
	}
	return h
}
