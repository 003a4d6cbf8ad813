package telemetry

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// envelope accepts both `{"message": {...}}` and the bare message.
type envelope struct {
	Message *message `json:"message"`
}

type message struct {
	Type              string            `json:"type"`
	CallID            string            `json:"callId"`
	Assistant         *assistantRef     `json:"assistant"`
	Call              *callObject       `json:"call"`
	Artifact          *artifact         `json:"artifact"`
	StructuredOutputs structuredOutputs `json:"structuredOutputs"`
	Output            []transcriptItem  `json:"output"`
	Messages          []transcriptItem  `json:"messages"`
}

type assistantRef struct {
	ID string `json:"id"`
}

type artifact struct {
	Call              *callObject       `json:"call"`
	StructuredOutputs structuredOutputs `json:"structuredOutputs"`
	Messages          []transcriptItem  `json:"messages"`
}

type callObject struct {
	ID               string     `json:"id"`
	AssistantID      string     `json:"assistantId"`
	StartedAt        flexTime   `json:"startedAt"`
	StartTime        flexTime   `json:"start_time"`
	CreatedAt        flexTime   `json:"createdAt"`
	CreatedAtSnake   flexTime   `json:"created_at"`
	EndedAt          flexTime   `json:"endedAt"`
	EndTime          flexTime   `json:"end_time"`
	CompletedAt      flexTime   `json:"completedAt"`
	CompletedAtSnake flexTime   `json:"completed_at"`
	DurationSeconds  flexNumber `json:"durationSeconds"`
	DurationMs       flexNumber `json:"durationMs"`
}

type structuredOutput struct {
	Name   string          `json:"name"`
	Result json.RawMessage `json:"result"`
}

// structuredOutputs accepts either an id-keyed object or a list. Shapes it
// cannot read decode as empty.
type structuredOutputs []structuredOutput

func (s *structuredOutputs) UnmarshalJSON(data []byte) error {
	var keyed map[string]structuredOutput
	if err := json.Unmarshal(data, &keyed); err == nil {
		out := make(structuredOutputs, 0, len(keyed))
		for _, output := range keyed {
			out = append(out, output)
		}
		*s = out
		return nil
	}
	var list []structuredOutput
	if err := json.Unmarshal(data, &list); err == nil {
		*s = list
		return nil
	}
	*s = nil
	return nil
}

type transcriptItem struct {
	Role   string          `json:"role"`
	Name   string          `json:"name"`
	Result json.RawMessage `json:"result"`
}

// flexNumber decodes numbers that may arrive quoted.
type flexNumber float64

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if raw == "" || raw == "null" {
		*n = 0
		return nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*n = 0
		return nil
	}
	*n = flexNumber(value)
	return nil
}

// flexTime decodes RFC 3339 strings; anything unparseable is treated as absent.
type flexTime struct {
	t *time.Time
}

func (f *flexTime) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		f.t = nil
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(raw))
	if err != nil {
		f.t = nil
		return nil
	}
	utc := parsed.UTC()
	f.t = &utc
	return nil
}

func firstTime(values ...flexTime) *time.Time {
	for _, v := range values {
		if v.t != nil {
			return v.t
		}
	}
	return nil
}

func firstString(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
