package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// HTTPPositionSource resolves a network-based position fix from a
// locate endpoint. Used as the fallback source, or as the primary on
// hosts without a GPS receiver.
type HTTPPositionSource struct {
	url        string
	token      string
	httpClient *http.Client
}

// NewHTTPPositionSource creates a network position source
func NewHTTPPositionSource(url, token string) *HTTPPositionSource {
	return &HTTPPositionSource{
		url:        url,
		token:      token,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (s *HTTPPositionSource) Name() string { return "network" }

// Position fetches a fix from the locate endpoint
func (s *HTTPPositionSource) Position(ctx context.Context, opts SampleOptions) (*Position, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, &PositionError{Reason: FailureUnavailable, Source: s.Name()}
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &PositionError{Reason: FailureTimeout, Source: s.Name()}
		}
		return nil, &PositionError{Reason: FailureUnavailable, Source: s.Name()}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return nil, &PositionError{Reason: FailurePermissionDenied, Source: s.Name()}
	case resp.StatusCode != http.StatusOK:
		return nil, &PositionError{Reason: FailureUnavailable, Source: s.Name()}
	}

	var pos Position
	if err := json.NewDecoder(resp.Body).Decode(&pos); err != nil {
		return nil, &PositionError{Reason: FailureUnavailable, Source: s.Name()}
	}
	pos.Source = "network"
	return &pos, nil
}
