// Package judit provides a client for the Judit judicial data API. Lookups
// are asynchronous: Submit registers a search and results arrive later on the
// configured callback URL.
package judit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// SearchTypeLawsuitCNJ searches by the national unified process number.
const SearchTypeLawsuitCNJ = "lawsuit_cnj"

// Client defines the Judit API operations.
type Client interface {
	// Submit registers an asynchronous lawsuit lookup and returns the
	// provider-assigned request id.
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error)
	// DownloadAttachment fetches one attachment's bytes by its code.
	DownloadAttachment(ctx context.Context, requestID, attachmentCode string) ([]byte, error)
}

// Option configures the Judit client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithTimeout sets the HTTP request timeout. Non-positive values keep the
// default.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a new Judit client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://requests.prod.judit.io",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// retryableStatusCode returns true if the HTTP status code should trigger a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable
}

// retryDo executes an HTTP request with exponential backoff retries on
// transient failures (429, 500, 502, 503). Returns the response body and
// status code on success, or the last error after exhausting retries.
func (c *httpClient) retryDo(ctx context.Context, req *http.Request) ([]byte, int, error) {
	const maxAttempts = 3
	backoff := 1 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		retryReq := req.Clone(ctx)
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, 0, eris.Wrap(err, "judit: rewind request body")
			}
			retryReq.Body = body
		}

		resp, err := c.http.Do(retryReq)
		if err != nil {
			lastErr = err
			if attempt < maxAttempts {
				select {
				case <-ctx.Done():
					return nil, 0, ctx.Err()
				case <-time.After(backoff):
				}
				backoff *= 2
				continue
			}
			return nil, 0, lastErr
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, resp.StatusCode, eris.Wrap(readErr, "judit: read response body")
		}

		if retryableStatusCode(resp.StatusCode) && attempt < maxAttempts {
			lastErr = eris.Errorf("judit: status %d: %s", resp.StatusCode, string(body))
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}

		return body, resp.StatusCode, nil
	}

	return nil, 0, lastErr
}

func (c *httpClient) Submit(ctx context.Context, submitReq SubmitRequest) (*SubmitResponse, error) {
	payload, err := json.Marshal(submitReq)
	if err != nil {
		return nil, eris.Wrap(err, "judit: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/requests", bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "judit: create request")
	}
	req.Header.Set("api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	body, statusCode, err := c.retryDo(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "judit: submit failed")
	}

	if statusCode != http.StatusOK && statusCode != http.StatusCreated {
		return nil, eris.Errorf("judit: submit unexpected status %d: %s", statusCode, string(body))
	}

	// Without the provider's request id there is nothing to correlate the
	// eventual callback against, so an accepted-but-malformed response is
	// a hard failure, not a value to cast blindly.
	if err := ValidateSubmitResponse(body); err != nil {
		return nil, err
	}

	var result SubmitResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "judit: unmarshal submit response")
	}

	return &result, nil
}

func (c *httpClient) DownloadAttachment(ctx context.Context, requestID, attachmentCode string) ([]byte, error) {
	reqURL := fmt.Sprintf("%s/requests/%s/attachments/%s", c.baseURL, requestID, attachmentCode)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "judit: create attachment request")
	}
	req.Header.Set("api-key", c.apiKey)

	body, statusCode, err := c.retryDo(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "judit: attachment download failed")
	}

	if statusCode != http.StatusOK {
		return nil, eris.Errorf("judit: attachment unexpected status %d", statusCode)
	}

	return body, nil
}
