package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/banshee-data/artos/internal/httputil"
)

// RemoteError is a non-2xx answer of the server.
type RemoteError struct {
	StatusCode int
	Body       httputil.ErrorBody
}

func (e *RemoteError) Error() string {
	if e.Body.Status != "" {
		return fmt.Sprintf("server returned %d: %s (%s)", e.StatusCode, e.Body.Error, e.Body.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Body.Error)
}

// Client talks to a running server.
type Client struct {
	base string
	http httputil.HTTPClient
}

// NewClient returns a client for the server at base, e.g.
// "http://localhost:8080". A nil c uses http.DefaultClient.
func NewClient(base string, c httputil.HTTPClient) *Client {
	if c == nil {
		c = httputil.NewStandardClient(nil)
	}
	return &Client{base: strings.TrimRight(base, "/"), http: c}
}

// Version returns the build metadata of the server.
func (c *Client) Version(ctx context.Context) (VersionInfo, error) {
	var v VersionInfo
	err := c.do(ctx, http.MethodGet, "/api/version", nil, "", &v)
	return v, err
}

// Detect posts an encoded image and returns its detections, best first.
// A positive limit caps their number.
func (c *Client) Detect(ctx context.Context, image []byte, limit int) ([]Detection, error) {
	path := "/api/detect"
	if limit > 0 {
		path += "?max=" + strconv.Itoa(limit)
	}
	var dets []Detection
	err := c.do(ctx, http.MethodPost, path, bytes.NewReader(image), "application/octet-stream", &dets)
	return dets, err
}

// Synsets lists the synsets of the server's repository, or searches them
// when query is not empty.
func (c *Client) Synsets(ctx context.Context, query string, limit int) ([]Synset, error) {
	q := url.Values{}
	if query != "" {
		q.Set("q", query)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/synsets"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []Synset
	err := c.do(ctx, http.MethodGet, path, nil, "", &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		remote := &RemoteError{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(&remote.Body); err != nil {
			remote.Body.Error = http.StatusText(resp.StatusCode)
		}
		return remote
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
