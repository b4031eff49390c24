package xhttp

import (
	"fmt"
	"net/http"

	"github.com/garrettladley/plata/internal/version"
)

type plataTransport struct {
	base http.RoundTripper
}

var _ http.RoundTripper = (*plataTransport)(nil)

func (t *plataTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", "plata/"+version.Get())
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("failed to perform round trip: %w", err)
	}
	return resp, nil
}

// NewTransport returns an http.RoundTripper with the standard User-Agent.
func NewTransport() http.RoundTripper {
	return &plataTransport{base: http.DefaultTransport}
}
