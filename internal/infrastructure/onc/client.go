// Package onc talks to the Ocean Networks Canada web services: archive file
// listings, direct downloads and asynchronous data product orders.
package onc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"HydrophoneStreamer/internal/domain"
	"HydrophoneStreamer/internal/infrastructure/httpfetch"
)

var (
	// ErrOrderRejected is returned when the service refuses a data product request.
	ErrOrderRejected = errors.New("onc: data product request rejected")
	// ErrBadRequest wraps the parameter errors reported with HTTP 400.
	ErrBadRequest = errors.New("onc: bad request")
)

const (
	archiveListPath     = "/api/archivefile/device"
	archiveDownloadPath = "/api/archivefile/download"
	deliveryPath        = "/api/dataProductDelivery"
	deploymentsPath     = "/api/deployments"
)

// RunState is the outcome of one data product download attempt.
type RunState int

const (
	// RunFile means a file was delivered for the requested index.
	RunFile RunState = iota
	// RunPending means the product is still being generated.
	RunPending
	// RunExhausted means the index is past the last file of the run.
	RunExhausted
)

// Deployment is the subset of /api/deployments the streamer needs.
type Deployment struct {
	Begin    time.Time  `json:"begin"`
	End      *time.Time `json:"end"`
	Citation citation   `json:"citation"`
}

// citation accepts both the legacy string and the {"citation": "..."} object.
type citation string

func (c *citation) UnmarshalJSON(raw []byte) error {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		*c = citation(s)
		return nil
	}
	var obj struct {
		Citation string `json:"citation"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return fmt.Errorf("decode citation: %w", err)
	}
	*c = citation(obj.Citation)
	return nil
}

// apiError is the 400 body shape of every ONC endpoint.
type apiError struct {
	Errors []struct {
		ErrorCode    int    `json:"errorCode"`
		ErrorMessage string `json:"errorMessage"`
		Parameter    string `json:"parameter"`
	} `json:"errors"`
}

func (e apiError) String() string {
	parts := make([]string, 0, len(e.Errors))
	for _, item := range e.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", item.Parameter, item.ErrorMessage))
	}
	return strings.Join(parts, "; ")
}

// Client is a thin typed wrapper over the ONC REST endpoints.
type Client struct {
	http    *httpfetch.Client
	baseURL string
	token   string
}

// NewClient binds a base URL and token to the shared HTTP client.
func NewClient(hc *httpfetch.Client, baseURL, token string) *Client {
	return &Client{http: hc, baseURL: strings.TrimSuffix(baseURL, "/"), token: token}
}

func (c *Client) endpoint(path string, params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("token", c.token)
	return c.baseURL + path + "?" + params.Encode()
}

func filterParams(filter domain.Filter) url.Values {
	params := url.Values{}
	for _, key := range filter.Keys() {
		params.Set(key, filter.String(key))
	}
	return params
}

// ListByDevice returns the archived file names matching filter.
func (c *Client) ListByDevice(ctx context.Context, filter domain.Filter) ([]string, error) {
	var out struct {
		Files []string `json:"files"`
	}
	if err := c.getJSON(ctx, c.endpoint(archiveListPath, filterParams(filter)), &out); err != nil {
		return nil, fmt.Errorf("list archive files: %w", err)
	}
	return out.Files, nil
}

// FileURL is the token-free download location of an archived file.
func (c *Client) FileURL(filename string) string {
	return c.baseURL + archiveDownloadPath + "?" + url.Values{"filename": {filename}}.Encode()
}

// DownloadFile stores an archived file at dest.
func (c *Client) DownloadFile(ctx context.Context, filename, dest string) (int64, error) {
	params := url.Values{"filename": {filename}}
	n, err := c.http.Download(ctx, c.endpoint(archiveDownloadPath, params), dest)
	if err != nil {
		return n, fmt.Errorf("download %s: %w", filename, err)
	}
	return n, nil
}

// RequestProduct submits a data product request and returns its request id.
func (c *Client) RequestProduct(ctx context.Context, filter domain.Filter) (int, error) {
	params := filterParams(filter)
	params.Set("method", "request")

	var out struct {
		RequestID int `json:"dpRequestId"`
	}
	if err := c.getJSON(ctx, c.endpoint(deliveryPath, params), &out); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrOrderRejected, err)
	}
	if out.RequestID == 0 {
		return 0, fmt.Errorf("%w: no dpRequestId in response", ErrOrderRejected)
	}
	return out.RequestID, nil
}

// RunProduct starts generation of a requested product and returns its run ids.
func (c *Client) RunProduct(ctx context.Context, requestID int) ([]int, error) {
	params := url.Values{
		"method":      {"run"},
		"dpRequestId": {strconv.Itoa(requestID)},
	}

	var out []struct {
		RunID  int    `json:"dpRunId"`
		Status string `json:"status"`
	}
	if err := c.getJSON(ctx, c.endpoint(deliveryPath, params), &out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOrderRejected, err)
	}

	ids := make([]int, 0, len(out))
	for _, run := range out {
		ids = append(ids, run.RunID)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: request %d produced no runs", ErrOrderRejected, requestID)
	}
	return ids, nil
}

// DownloadProduct fetches file number index of a run into dir. The returned
// path is empty unless state is RunFile.
func (c *Client) DownloadProduct(ctx context.Context, runID, index int, dir string) (string, RunState, error) {
	params := url.Values{
		"method":  {"download"},
		"dpRunId": {strconv.Itoa(runID)},
		"index":   {strconv.Itoa(index)},
	}

	resp, err := c.http.Do(ctx, http.MethodGet, c.endpoint(deliveryPath, params))
	if err != nil {
		return "", RunPending, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		name := attachmentName(resp.Header.Get("Content-Disposition"))
		if name == "" {
			name = fmt.Sprintf("run%d_%d", runID, index)
		}
		dest := filepath.Join(dir, name)
		if _, err := httpfetch.SaveTo(resp.Body, dest); err != nil {
			return "", RunPending, fmt.Errorf("save run %d index %d: %w", runID, index, err)
		}
		return dest, RunFile, nil
	case http.StatusAccepted:
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", RunPending, nil
	case http.StatusNotFound, http.StatusNoContent:
		return "", RunExhausted, nil
	case http.StatusBadRequest:
		return "", RunPending, decodeAPIError(resp)
	default:
		return "", RunPending, httpfetch.CheckStatus(resp)
	}
}

// Deployments lists the hydrophone deployments of a device.
func (c *Client) Deployments(ctx context.Context, deviceCode string) ([]Deployment, error) {
	params := url.Values{
		"method":             {"get"},
		"deviceCode":         {deviceCode},
		"deviceCategoryCode": {"HYDROPHONE"},
	}

	var out []Deployment
	if err := c.getJSON(ctx, c.endpoint(deploymentsPath, params), &out); err != nil {
		return nil, fmt.Errorf("deployments of %s: %w", deviceCode, err)
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, v any) error {
	resp, err := c.http.Do(ctx, http.MethodGet, endpoint)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest {
		return decodeAPIError(resp)
	}
	if err := httpfetch.CheckStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	var body apiError
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || len(body.Errors) == 0 {
		return fmt.Errorf("%w: %s", ErrBadRequest, resp.Status)
	}
	return fmt.Errorf("%w: %s", ErrBadRequest, body)
}

func attachmentName(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil || params["filename"] == "" {
		return ""
	}
	return filepath.Base(params["filename"])
}
