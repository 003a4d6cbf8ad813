package telemetry

import (
	"encoding/json"
	"strings"
)

// OutcomeExtractor detects a successful call outcome in one payload variant.
type OutcomeExtractor interface {
	Name() string
	Detect(msg *message) bool
}

// structuredOutputExtractor matches the platform's structured output named
// "Appointment Booked" with a true result.
type structuredOutputExtractor struct {
	outputName string
}

func (e structuredOutputExtractor) Name() string { return "structured_output" }

func (e structuredOutputExtractor) Detect(msg *message) bool {
	outputs := msg.StructuredOutputs
	if outputs == nil && msg.Artifact != nil {
		outputs = msg.Artifact.StructuredOutputs
	}
	for _, output := range outputs {
		if output.Name != e.outputName {
			continue
		}
		var result bool
		if err := json.Unmarshal(output.Result, &result); err == nil && result {
			return true
		}
	}
	return false
}

// calendarToolExtractor matches a calendar tool result whose JSON body has
// status "confirmed".
type calendarToolExtractor struct {
	toolName string
}

func (e calendarToolExtractor) Name() string { return "calendar_tool" }

func (e calendarToolExtractor) Detect(msg *message) bool {
	items := make([]transcriptItem, 0, len(msg.Output)+len(msg.Messages))
	if msg.Artifact != nil {
		items = append(items, msg.Artifact.Messages...)
	}
	items = append(items, msg.Output...)
	items = append(items, msg.Messages...)

	for _, item := range items {
		if item.Role != "tool_call_result" || item.Name != e.toolName {
			continue
		}
		if toolStatus(item.Result) == "confirmed" {
			return true
		}
	}
	return false
}

// toolStatus reads `status` from a tool result that is either a JSON object
// or a JSON string containing one.
func toolStatus(raw json.RawMessage) string {
	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Status != "" {
		return strings.ToLower(body.Status)
	}
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return ""
	}
	if err := json.Unmarshal([]byte(encoded), &body); err != nil {
		return ""
	}
	return strings.ToLower(body.Status)
}

// DefaultExtractors is the closed set of outcome detectors, tried in order.
func DefaultExtractors() []OutcomeExtractor {
	return []OutcomeExtractor{
		structuredOutputExtractor{outputName: "Appointment Booked"},
		calendarToolExtractor{toolName: "google_calendar_tool"},
	}
}
