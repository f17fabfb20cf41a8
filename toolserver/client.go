package toolserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/parleyio/parley/tools"
)

// httpClient speaks the tool server's loopback JSON protocol:
//
//	GET  /health           -> 200 when the server is ready
//	POST /register-tools   -> {tools: [descriptor...]}
//	POST /execute-tool     -> {toolName, parameters} -> {success, data|errorMessage}
//	POST /shutdown         -> best-effort graceful stop
type httpClient struct {
	baseURL string
	client  *http.Client
}

func newHTTPClient(baseURL string, timeout time.Duration) *httpClient {
	return &httpClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Health reports whether the server answers its health endpoint.
func (c *httpClient) Health(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close() //nolint:errcheck
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// RegisterTools pushes the capability catalog to the server.
func (c *httpClient) RegisterTools(ctx context.Context, descriptors []tools.Descriptor) error {
	payload := map[string]interface{}{"tools": descriptors}
	return c.post(ctx, "/register-tools", payload, nil)
}

// ExecuteTool runs one capability remotely.
func (c *httpClient) ExecuteTool(ctx context.Context, name string, args map[string]interface{}) (tools.Result, error) {
	payload := map[string]interface{}{
		"toolName":   name,
		"parameters": args,
	}
	var result tools.Result
	if err := c.post(ctx, "/execute-tool", payload, &result); err != nil {
		return tools.Result{}, err
	}
	return result, nil
}

// Shutdown asks the server to exit. Connection errors are expected when the
// server exits before responding.
func (c *httpClient) Shutdown(ctx context.Context) error {
	return c.post(ctx, "/shutdown", map[string]interface{}{}, nil)
}

func (c *httpClient) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return fmt.Errorf("tool server %s: %s", path, resp.Status)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(respBytes, out); err != nil {
		return fmt.Errorf("tool server %s: invalid response: %w", path, err)
	}
	return nil
}
