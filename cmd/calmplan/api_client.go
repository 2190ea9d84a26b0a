package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultClientTimeout is the default timeout for API requests. Backups
// run synchronously, so the client waits longer than a plain read.
const DefaultClientTimeout = 2 * time.Minute

// apiClient is the shared HTTP client with timeout.
var apiClient = &http.Client{
	Timeout: DefaultClientTimeout,
}

// apiDo sends a JSON request and returns the body of a successful response.
func apiDo(method, path string, data any) ([]byte, error) {
	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, apiAddr+path, body)
	if err != nil {
		return nil, err
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := apiClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return respBody, fmt.Errorf("API error (%d): %s", resp.StatusCode, bytes.TrimSpace(respBody))
	}
	return respBody, nil
}

func apiGet(path string) ([]byte, error) { return apiDo(http.MethodGet, path, nil) }

func apiPost(path string, data any) ([]byte, error) { return apiDo(http.MethodPost, path, data) }

// apiGetJSON decodes a GET response into v.
func apiGetJSON(path string, v any) error {
	body, err := apiGet(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

// CheckHealth checks if the daemon is healthy and returns the health response.
// Unlike other API calls, this returns the parsed HealthResponse even on non-200
// responses, allowing callers to inspect the health payload alongside the error.
func CheckHealth() (*HealthResponse, error) {
	client := http.Client{Timeout: 500 * time.Millisecond}
	resp, err := client.Get(apiAddr + "/health")
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("failed to parse health response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &health, fmt.Errorf("health check failed (status %d)", resp.StatusCode)
	}
	return &health, nil
}

// HealthResponse matches the server's health response structure.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Backup  string `json:"backup"`
	Version string `json:"version"`
	Time    string `json:"time"`
}
