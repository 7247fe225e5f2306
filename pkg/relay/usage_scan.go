package relay

import (
	"bytes"
	"encoding/json"

	"github.com/kadaliao/claude-relay-service/pkg/usage"
)

// usagePayload matches the usage object in upstream responses.
type usagePayload struct {
	InputTokens         int64 `json:"input_tokens"`
	OutputTokens        int64 `json:"output_tokens"`
	CacheCreationTokens int64 `json:"cache_creation_input_tokens"`
	CacheReadTokens     int64 `json:"cache_read_input_tokens"`
}

// usageScanner accumulates token accounting from an upstream response
// as it passes through the relay. It observes bytes without modifying
// them: streaming responses are scanned line by line for message_start
// and message_delta events, non-streaming bodies are parsed whole.
type usageScanner struct {
	model       string
	input       int64
	output      int64
	cacheCreate int64
	cacheRead   int64
	seen        bool
}

var dataPrefix = []byte("data:")

// ScanLine inspects one SSE line. Non-data lines and undecodable
// payloads are ignored; scanning never fails the relay.
func (s *usageScanner) ScanLine(line []byte) {
	line = bytes.TrimSpace(line)
	if !bytes.HasPrefix(line, dataPrefix) {
		return
	}
	payload := bytes.TrimSpace(line[len(dataPrefix):])
	if len(payload) == 0 || !bytes.HasPrefix(payload, []byte("{")) {
		return
	}

	var event struct {
		Type    string `json:"type"`
		Message *struct {
			Model string        `json:"model"`
			Usage *usagePayload `json:"usage"`
		} `json:"message"`
		Usage *usagePayload `json:"usage"`
		Model string        `json:"model"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return
	}

	switch event.Type {
	case "message_start":
		if event.Message == nil {
			return
		}
		s.seen = true
		if event.Message.Model != "" {
			s.model = event.Message.Model
		}
		if u := event.Message.Usage; u != nil {
			s.input = u.InputTokens
			s.cacheCreate = u.CacheCreationTokens
			s.cacheRead = u.CacheReadTokens
			if u.OutputTokens > 0 {
				s.output = u.OutputTokens
			}
		}

	case "message_delta":
		if u := event.Usage; u != nil {
			s.seen = true
			// Deltas report cumulative output, not increments.
			if u.OutputTokens > 0 {
				s.output = u.OutputTokens
			}
			if u.InputTokens > 0 {
				s.input = u.InputTokens
			}
		}

	case "response.completed":
		// OpenAI-compatible streams carry usage on the final event.
		var completed struct {
			Response struct {
				Model string `json:"model"`
				Usage *struct {
					InputTokens  int64 `json:"input_tokens"`
					OutputTokens int64 `json:"output_tokens"`
				} `json:"usage"`
			} `json:"response"`
		}
		if err := json.Unmarshal(payload, &completed); err != nil {
			return
		}
		if completed.Response.Model != "" {
			s.model = completed.Response.Model
		}
		if u := completed.Response.Usage; u != nil {
			s.seen = true
			s.input = u.InputTokens
			s.output = u.OutputTokens
		}
	}
}

// ScanBody parses a complete non-streaming response body.
func (s *usageScanner) ScanBody(body []byte) {
	var resp struct {
		Model string        `json:"model"`
		Usage *usagePayload `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return
	}
	if resp.Model != "" {
		s.model = resp.Model
	}
	if u := resp.Usage; u != nil {
		s.seen = true
		s.input = u.InputTokens
		s.output = u.OutputTokens
		s.cacheCreate = u.CacheCreationTokens
		s.cacheRead = u.CacheReadTokens
	}
}

// Seen reports whether any usage data was observed.
func (s *usageScanner) Seen() bool {
	return s.seen
}

// Fill copies the accumulated counts into a usage event.
func (s *usageScanner) Fill(ev *usage.Event) {
	ev.Model = s.model
	ev.InputTokens = s.input
	ev.OutputTokens = s.output
	ev.CacheCreateTokens = s.cacheCreate
	ev.CacheReadTokens = s.cacheRead
}
