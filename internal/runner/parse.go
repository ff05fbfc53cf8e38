package runner

import "encoding/json"

// The agent emits newline-delimited JSON events in stream-json mode. Lines
// that fail to parse or carry unknown types are skipped so a new event type
// never kills the read loop.

type streamEvent struct {
	Type      string       `json:"type"`
	Subtype   string       `json:"subtype,omitempty"`
	SessionID string       `json:"session_id,omitempty"`
	Message   *messageBody `json:"message,omitempty"`
}

type messageBody struct {
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type resultEvent struct {
	Type       string `json:"type"`
	Subtype    string `json:"subtype"`
	IsError    bool   `json:"is_error"`
	Result     string `json:"result"`
	NumTurns   int    `json:"num_turns"`
	DurationMS int    `json:"duration_ms"`
	SessionID  string `json:"session_id"`
}

// parseSessionID extracts the session id from the system init event.
func parseSessionID(line string) (string, bool) {
	var ev streamEvent
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		return "", false
	}
	if ev.Type == "system" && ev.Subtype == "init" && ev.SessionID != "" {
		return ev.SessionID, true
	}
	return "", false
}

// parseAssistantText extracts streamed assistant text, if the line carries any.
func parseAssistantText(line string) (string, bool) {
	var ev streamEvent
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		return "", false
	}
	if ev.Type != "assistant" || ev.Message == nil {
		return "", false
	}
	for _, block := range ev.Message.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text, true
		}
	}
	return "", false
}

// parseResult extracts the terminal result event.
func parseResult(line string) (resultEvent, bool) {
	var ev resultEvent
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		return resultEvent{}, false
	}
	if ev.Type != "result" {
		return resultEvent{}, false
	}
	return ev, true
}
