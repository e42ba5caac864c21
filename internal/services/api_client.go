package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/geotrack/tracker/internal/models"
	"github.com/geotrack/tracker/internal/observability"
)

// APIClient talks to the external tracking service over HTTP. The
// service itself is a black box: this client only needs the device
// list, registration, history pages, and the start/stop/delete
// triggers.
type APIClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        *observability.Logger
}

// NewAPIClient creates a client for the tracking service
func NewAPIClient(baseURL, token string, timeout time.Duration) *APIClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &APIClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		log:        observability.WithField("component", "api"),
	}
}

// FetchDevices returns the user's registered devices
func (c *APIClient) FetchDevices(ctx context.Context) ([]models.RemoteDevice, error) {
	ctx, span := observability.StartServiceSpan(ctx, "api", "FetchDevices")
	defer span.End()

	var devices []models.RemoteDevice
	err := c.do(ctx, http.MethodGet, "/devices", nil, &devices)
	observability.RecordError(span, err)
	return devices, err
}

// RegisterDevice registers a device, manually or via a QR registration
// code carried in the request
func (c *APIClient) RegisterDevice(ctx context.Context, req models.RegisterDeviceRequest) (*models.RemoteDevice, error) {
	ctx, span := observability.StartServiceSpan(ctx, "api", "RegisterDevice")
	defer span.End()

	var device models.RemoteDevice
	err := c.do(ctx, http.MethodPost, "/devices", req, &device)
	observability.RecordError(span, err)
	if err != nil {
		return nil, err
	}
	return &device, nil
}

// History fetches one page of a device's location history
func (c *APIClient) History(ctx context.Context, deviceID string, page, limit int) (*models.HistoryPage, error) {
	ctx, span := observability.StartServiceSpan(ctx, "api", "History")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	path := fmt.Sprintf("/devices/%s/history?page=%s&limit=%s",
		url.PathEscape(deviceID),
		strconv.Itoa(page),
		strconv.Itoa(limit),
	)

	var result models.HistoryPage
	err := c.do(ctx, http.MethodGet, path, nil, &result)
	observability.RecordError(span, err)
	if err != nil {
		return nil, err
	}
	result.DeviceID = deviceID
	result.Page = page
	result.Limit = limit
	return &result, nil
}

// DeleteDevice removes a device from the remote service
func (c *APIClient) DeleteDevice(ctx context.Context, deviceID string) error {
	ctx, span := observability.StartServiceSpan(ctx, "api", "DeleteDevice")
	defer span.End()

	err := c.do(ctx, http.MethodDelete, "/devices/"+url.PathEscape(deviceID), nil, nil)
	observability.RecordError(span, err)
	return err
}

// StartTracking asks the service to begin pushing events for a device
func (c *APIClient) StartTracking(ctx context.Context, deviceID string) error {
	ctx, span := observability.StartServiceSpan(ctx, "api", "StartTracking")
	defer span.End()

	err := c.do(ctx, http.MethodPost, "/devices/"+url.PathEscape(deviceID)+"/track", nil, nil)
	observability.RecordError(span, err)
	return err
}

// StopTracking asks the service to stop pushing events for a device
func (c *APIClient) StopTracking(ctx context.Context, deviceID string) error {
	ctx, span := observability.StartServiceSpan(ctx, "api", "StopTracking")
	defer span.End()

	err := c.do(ctx, http.MethodPost, "/devices/"+url.PathEscape(deviceID)+"/untrack", nil, nil)
	observability.RecordError(span, err)
	return err
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// APIError is a non-2xx response from the tracking service
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tracking api: status %d", e.StatusCode)
}
