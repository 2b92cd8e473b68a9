package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/SomBagchi/bioreactor-website/pkg/api"
)

// HubClient handles API calls to the bioreactor hub.
type HubClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewHubClient creates a new client with the given base URL.
func NewHubClient(baseURL string) *HubClient {
	return &HubClient{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

func (c *HubClient) do(method, url string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequest(method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Add("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// SubmitExperiment sends POST /api/experiments.
func (c *HubClient) SubmitExperiment(script string) (*api.SubmitExperimentResponse, error) {
	var result api.SubmitExperimentResponse
	err := c.do(http.MethodPost, fmt.Sprintf("%s/api/experiments", c.BaseURL),
		api.SubmitExperimentRequest{Script: script}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// GetExperiment sends GET /api/experiments/{id}.
func (c *HubClient) GetExperiment(id string) (*api.ExperimentResponse, error) {
	var result api.ExperimentResponse
	err := c.do(http.MethodGet, fmt.Sprintf("%s/api/experiments/%s", c.BaseURL, id), nil, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// CancelExperiment sends POST /api/experiments/{id}/cancel.
func (c *HubClient) CancelExperiment(id string) (*api.ExperimentResponse, error) {
	var result api.ExperimentResponse
	err := c.do(http.MethodPost, fmt.Sprintf("%s/api/experiments/%s/cancel", c.BaseURL, id), nil, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// GetResults sends GET /api/experiments/{id}/results.
func (c *HubClient) GetResults(id string) (*api.ResultsResponse, error) {
	var result api.ResultsResponse
	err := c.do(http.MethodGet, fmt.Sprintf("%s/api/experiments/%s/results", c.BaseURL, id), nil, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// DownloadBundle streams GET /api/experiments/{id}/results/bundle to a file.
func (c *HubClient) DownloadBundle(id, dest string) error {
	resp, err := c.HTTPClient.Get(fmt.Sprintf("%s/api/experiments/%s/results/bundle", c.BaseURL, id))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// GetHealth sends GET /healthz.
func (c *HubClient) GetHealth() (*api.HealthResponse, error) {
	var result api.HealthResponse
	err := c.do(http.MethodGet, fmt.Sprintf("%s/healthz", c.BaseURL), nil, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}
