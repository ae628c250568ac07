// Package iceconfig fetches the STUN/TURN server list used by the WebRTC
// transport. Fetch failures are never fatal: callers get Fallback.
package iceconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const (
	// MaxServers caps the list; ICE gathering slows down noticeably with more.
	MaxServers = 2

	DefaultTimeout = 5 * time.Second
)

// ErrFetchFailed wraps every reason Fetch fell back to the static list.
var ErrFetchFailed = errors.New("iceconfig: fetch failed")

// Server is one ICE server descriptor.
type Server struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// Fallback is used whenever the endpoint cannot be reached or parsed.
var Fallback = []Server{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
	{URLs: []string{"stun:global.stun.twilio.com:3478"}},
}

// UnmarshalJSON accepts "urls" as a string or an array, and the legacy
// single "url" field.
func (s *Server) UnmarshalJSON(data []byte) error {
	var raw struct {
		URLs       json.RawMessage `json:"urls"`
		URL        string          `json:"url"`
		Username   string          `json:"username"`
		Credential string          `json:"credential"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.Username = raw.Username
	s.Credential = raw.Credential
	s.URLs = nil

	if len(raw.URLs) > 0 && string(raw.URLs) != "null" {
		var one string
		if err := json.Unmarshal(raw.URLs, &one); err == nil {
			s.URLs = []string{one}
		} else if err := json.Unmarshal(raw.URLs, &s.URLs); err != nil {
			return fmt.Errorf("urls must be a string or an array of strings: %w", err)
		}
	}
	if len(s.URLs) == 0 && raw.URL != "" {
		s.URLs = []string{raw.URL}
	}
	if len(s.URLs) == 0 {
		return errors.New("ice server has no urls")
	}
	return nil
}

// Fetcher retrieves the server list from an HTTPS endpoint.
type Fetcher struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
}

// Fetch returns at most MaxServers servers. On any failure it returns
// Fallback together with an error wrapping ErrFetchFailed. An empty URL
// selects Fallback without error.
func (f *Fetcher) Fetch(ctx context.Context) ([]Server, error) {
	if f == nil || f.URL == "" {
		return Fallback, nil
	}

	servers, err := f.get(ctx)
	if err != nil {
		return Fallback, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	if len(servers) == 0 {
		return Fallback, fmt.Errorf("%w: empty server list", ErrFetchFailed)
	}
	if len(servers) > MaxServers {
		servers = servers[:MaxServers]
	}
	return servers, nil
}

func (f *Fetcher) get(ctx context.Context) ([]Server, error) {
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("get %s: %s", f.URL, resp.Status)
	}

	var servers []Server
	if err := json.NewDecoder(resp.Body).Decode(&servers); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.URL, err)
	}
	return servers, nil
}
