package paddle

import (
	"encoding/json"
	"fmt"
)

// APIError is a non-2xx response from the Paddle API.
type APIError struct {
	StatusCode int
	Type       string
	Code       string
	Detail     string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("paddle api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("paddle api error: status %d: %s: %s", e.StatusCode, e.Code, e.Detail)
}

// Temporary reports whether a later attempt may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

func parseError(status int, body []byte) *APIError {
	var envelope struct {
		Error struct {
			Type   string `json:"type"`
			Code   string `json:"code"`
			Detail string `json:"detail"`
		} `json:"error"`
	}
	apiErr := &APIError{StatusCode: status}
	if err := json.Unmarshal(body, &envelope); err == nil {
		apiErr.Type = envelope.Error.Type
		apiErr.Code = envelope.Error.Code
		apiErr.Detail = envelope.Error.Detail
	}
	return apiErr
}
