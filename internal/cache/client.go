package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"
)

// Client talks to the cache collaborator
type Client interface {
	// Lookup returns the stored document URL, empty when there is none
	Lookup(ctx context.Context, period, program string) (string, error)
	// Save uploads a document and returns its URL
	Save(ctx context.Context, period, program string, doc []byte) (string, error)
}

type urlResponse struct {
	URL   *string `json:"url"`
	Error string  `json:"error,omitempty"`
}

// HTTPClient implements Client over the collaborator's HTTP protocol:
// GET endpoint?ano=&curso= and a multipart POST of {ano, curso, file}.
type HTTPClient struct {
	endpoint string
	http     *http.Client
}

// NewHTTPClient creates a client for endpoint. A nil client gets a 60s timeout.
func NewHTTPClient(endpoint string, client *http.Client) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPClient{endpoint: endpoint, http: client}
}

// Lookup queries the collaborator
func (c *HTTPClient) Lookup(ctx context.Context, period, program string) (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid cache endpoint: %w", err)
	}
	q := u.Query()
	q.Set("ano", period)
	q.Set("curso", program)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	return c.do(req)
}

// Save uploads doc under the key derived from period and program
func (c *HTTPClient) Save(ctx context.Context, period, program string, doc []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("ano", period); err != nil {
		return "", err
	}
	if err := mw.WriteField("curso", program); err != nil {
		return "", err
	}
	fw, err := mw.CreateFormFile("file", BlobKey(period, program))
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(doc); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	u, err := c.do(req)
	if err != nil {
		return "", err
	}
	if u == "" {
		return "", fmt.Errorf("cache collaborator returned no url")
	}
	return u, nil
}

func (c *HTTPClient) do(req *http.Request) (string, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("cache request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read cache response: %w", err)
	}
	var out urlResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("invalid cache response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("cache collaborator returned %d: %s", resp.StatusCode, out.Error)
	}
	if out.URL == nil {
		return "", nil
	}
	return *out.URL, nil
}
