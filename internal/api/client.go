package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/daylight-data/exposure.report/internal/db"
	"github.com/daylight-data/exposure.report/internal/httputil"
	"github.com/daylight-data/exposure.report/internal/session"
)

// Client talks to a running daemon's HTTP API. The report tool uses it to
// pull recorded data without opening the database file out from under the
// daemon's single writer connection.
type Client struct {
	base string
	http httputil.HTTPClient
}

// NewClient returns a Client for the daemon at base (e.g. "http://localhost:2839").
// A nil httpClient uses the standard library default.
func NewClient(base string, httpClient httputil.HTTPClient) *Client {
	if httpClient == nil {
		httpClient = httputil.NewStandardClient(nil)
	}
	return &Client{base: strings.TrimRight(base, "/"), http: httpClient}
}

// Summary fetches per-day dose aggregates covering the last days days.
func (c *Client) Summary(days int) ([]db.DaySummary, error) {
	var summary []db.DaySummary
	if err := c.getJSON(fmt.Sprintf("/api/summary?days=%d", days), &summary); err != nil {
		return nil, err
	}
	return summary, nil
}

// Sessions fetches recorded sessions covering the last days days.
func (c *Client) Sessions(days int) ([]session.Session, error) {
	var sessions []session.Session
	if err := c.getJSON(fmt.Sprintf("/api/sessions?days=%d", days), &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// Transitions fetches lock transitions covering the last days days.
func (c *Client) Transitions(days int) ([]session.Transition, error) {
	var transitions []session.Transition
	if err := c.getJSON(fmt.Sprintf("/api/transitions?days=%d", days), &transitions); err != nil {
		return nil, err
	}
	return transitions, nil
}

func (c *Client) getJSON(path string, out interface{}) error {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("GET %s: %s (HTTP %d)", path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("GET %s: HTTP %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
