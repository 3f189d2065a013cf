package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// clientHeader carries the principal of CLI requests.
const clientHeader = "X-Nakadi-Client"

// principalFromEnv returns the client id sent with every request.
func principalFromEnv() string {
	return os.Getenv("NAKADI_CLIENT")
}

// apiClient is a thin JSON client for the Nakadi HTTP API.
type apiClient struct {
	base      string
	principal string
	http      *http.Client
}

func newAPIClient(cmd *cobra.Command, baseURL BaseURLFunc) *apiClient {
	principal, _ := cmd.Flags().GetString("client")
	if principal == "" {
		principal = principalFromEnv()
	}
	return &apiClient{base: baseURL(), principal: principal, http: &http.Client{Timeout: 60 * time.Second}}
}

// apiError is a non-2xx response decoded from the server error body.
type apiError struct {
	Status int
	Title  string `json:"title"`
	Msg    string `json:"error"`
	Kind   string `json:"kind"`
}

func (e *apiError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("http %d: %s (%s)", e.Status, e.Msg, e.Kind)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Msg)
}

// do sends body as JSON and decodes the response into out when non-nil.
func (c *apiClient) do(ctx context.Context, method, path string, body any, headers map[string]string, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.principal != "" {
		req.Header.Set(clientHeader, c.principal)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Msg == "" {
			apiErr.Msg = resp.Status
		}
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// printOut renders v as indented JSON, or YAML with -o yaml.
func printOut(cmd *cobra.Command, v any) error {
	format, _ := cmd.Flags().GetString("output")
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer func() { _ = enc.Close() }()
		// Round-trip through JSON so field names follow the API.
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(b, &generic); err != nil {
			return err
		}
		return enc.Encode(generic)
	case "", "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("invalid --output %q; use json|yaml", format)
	}
}
