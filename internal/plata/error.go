package plata

import (
	"fmt"
	"io"
	"net/http"

	go_json "github.com/goccy/go-json"
)

type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("plata api: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("plata api: %d %s", e.StatusCode, e.Message)
}

// Temporary reports whether the request may succeed if repeated.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func parseAPIError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    resp.Status,
		}
	}

	var errResp struct {
		ErrCode string `json:"errCode"`
		ErrText string `json:"errText"`
	}

	if err := go_json.Unmarshal(body, &errResp); err != nil {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
		}
	}

	msg := errResp.ErrText
	if msg == "" {
		msg = resp.Status
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Code:       errResp.ErrCode,
		Message:    msg,
	}
}
