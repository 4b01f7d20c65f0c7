// Package client talks to a running autodj server.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/lazypower/autodj/internal/model"
)

const (
	defaultServerURL = "http://127.0.0.1:37780"
	httpTimeout      = 5 * time.Second
)

// Client talks to the autodj server.
type Client struct {
	http      *http.Client
	serverURL string
}

// New creates a client for the server named by AUTODJ_URL,
// falling back to http://127.0.0.1:37780.
func New() *Client {
	url := os.Getenv("AUTODJ_URL")
	if url == "" {
		url = defaultServerURL
	}
	return NewWithURL(url)
}

// NewWithURL creates a client for the given base URL.
func NewWithURL(url string) *Client {
	return &Client{
		http:      &http.Client{Timeout: httpTimeout},
		serverURL: url,
	}
}

// URL returns the server base URL.
func (c *Client) URL() string {
	return c.serverURL
}

// Post sends a POST request with JSON body. Returns response body.
func (c *Client) Post(path string, body []byte) ([]byte, error) {
	resp, err := c.http.Post(c.serverURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", path, err)
	}
	return readBody("POST", path, resp)
}

// Get sends a GET request. Returns response body.
func (c *Client) Get(path string) ([]byte, error) {
	resp, err := c.http.Get(c.serverURL + path)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	return readBody("GET", path, resp)
}

// Healthy checks if the server is reachable.
func (c *Client) Healthy() bool {
	resp, err := c.http.Get(c.serverURL + "/api/health")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// State fetches the current session snapshot.
func (c *Client) State() (*model.SessionState, error) {
	data, err := c.Get("/state")
	if err != nil {
		return nil, err
	}
	return decodeState(data)
}

// StartSession starts a session on the server and returns its first snapshot.
func (c *Client) StartSession() (*model.SessionState, error) {
	data, err := c.Post("/session/start", nil)
	if err != nil {
		return nil, err
	}
	return decodeState(data)
}

// StopSession stops the running session.
func (c *Client) StopSession() (*model.SessionState, error) {
	data, err := c.Post("/session/stop", nil)
	if err != nil {
		return nil, err
	}
	return decodeState(data)
}

func decodeState(data []byte) (*model.SessionState, error) {
	var st model.SessionState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &st, nil
}

func readBody(method, path string, resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response %s: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		return data, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(data))
	}
	return data, nil
}
