package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	apiHealth          = "/health"
	healthCheckTimeout = 10 * time.Second
	statusHealthy      = "healthy"
)

// ErrServiceUnhealthy indicates the service answered but did not report itself healthy.
var ErrServiceUnhealthy = errors.New("service is not healthy")

type healthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// checkHealth queries the mixer's health endpoint at baseURL and returns its uptime.
func checkHealth(ctx context.Context, client *http.Client, baseURL string) (string, error) {
	url := strings.TrimRight(baseURL, "/") + apiHealth

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("health check failed for service at %s: %w", baseURL, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %s", ErrServiceUnhealthy, resp.Status)
	}

	var health healthResponse

	decodeErr := json.NewDecoder(resp.Body).Decode(&health)
	if decodeErr != nil {
		return "", fmt.Errorf("failed to decode health response: %w", decodeErr)
	}

	if health.Status != statusHealthy {
		return "", fmt.Errorf("%w: reported %q", ErrServiceUnhealthy, health.Status)
	}

	return health.Uptime, nil
}
