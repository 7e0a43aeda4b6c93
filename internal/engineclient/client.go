/*
Copyright (C) 2026 Aerugo Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package engineclient is the device-side client for the selection
// engine API. One decision request per button press; on a clean watch
// the play is reported complete.
package engineclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/aerugo/bobavision/internal/config"
)

// ErrUnreachable wraps transport-level failures (refused connection,
// timeout) so callers can tell them apart from engine-side errors.
var ErrUnreachable = errors.New("engine unreachable")

// Matches the server's error code for an unsatisfiable catalog.
const codeNoEligibleAsset = "no_eligible_asset"

// Decision is the engine's answer to one button press.
type Decision struct {
	Location        string  `json:"location"`
	Title           string  `json:"title"`
	Fallback        bool    `json:"fallback"`
	PlayID          string  `json:"play_id"`
	Classification  string  `json:"classification"`
	DurationSeconds float64 `json:"duration_seconds"`
	Day             string  `json:"day"`
	PlaysToday      int     `json:"plays_today"`
	Quota           int     `json:"quota"`
}

// APIError is a decoded non-2xx engine response.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("engine error (status %d, code %s): %s", e.StatusCode, e.Code, e.Message)
}

// IsConfigError reports whether the engine refused because its catalog
// cannot satisfy the request, e.g. no asset carries the fallback flag.
func (e *APIError) IsConfigError() bool {
	return e.Code == codeNoEligibleAsset
}

// Client talks to the selection engine on behalf of one device.
type Client struct {
	baseURL    string
	deviceID   string
	httpClient *http.Client
	logger     zerolog.Logger
}

// New builds a client from the device configuration. The transport is
// OpenTelemetry-instrumented so decision latency shows up in traces.
func New(cfg *config.DeviceConfig, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:  cfg.ServerURL,
		deviceID: cfg.DeviceID,
		httpClient: &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger.With().Str("component", "engine_client").Logger(),
	}
}

// NextDecision asks the engine what this device should play now.
// Relative asset locations come back resolved against the server base
// URL, ready to hand to the player.
func (c *Client) NextDecision(ctx context.Context) (*Decision, error) {
	body, err := json.Marshal(map[string]string{"device_id": c.deviceID})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/decisions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeAPIError(resp)
	}

	var decision Decision
	if err := json.NewDecoder(resp.Body).Decode(&decision); err != nil {
		return nil, fmt.Errorf("malformed engine response: %w", err)
	}
	if decision.Location == "" {
		return nil, fmt.Errorf("malformed engine response: empty location")
	}
	if strings.HasPrefix(decision.Location, "/") {
		decision.Location = c.baseURL + decision.Location
	}

	c.logger.Debug().
		Str("title", decision.Title).
		Str("classification", decision.Classification).
		Msg("decision received")
	return &decision, nil
}

// CompletePlay marks a play as watched to the end. Callers treat a
// failure as non-fatal; the record simply stays incomplete.
func (c *Client) CompletePlay(ctx context.Context, playID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/plays/"+playID+"/complete", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// CheckHealth probes the server health endpoint. Used once at startup
// to log whether the server is up; the agent runs either way.
func (c *Client) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Code: "unknown"}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil || len(body) == 0 {
		apiErr.Message = http.StatusText(resp.StatusCode)
		return apiErr
	}

	var decoded struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil || decoded.Error == "" {
		apiErr.Message = strings.TrimSpace(string(body))
		return apiErr
	}

	apiErr.Code = decoded.Error
	apiErr.Message = decoded.Message
	return apiErr
}
