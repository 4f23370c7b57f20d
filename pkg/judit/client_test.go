package judit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmit(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		var got SubmitRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/requests", r.URL.Path)
			assert.Equal(t, "test-key", r.Header.Get("api-key"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(SubmitResponse{RequestID: "req-abc", Status: "pending"})
		}))
		defer server.Close()

		c := NewClient("test-key", WithBaseURL(server.URL))
		resp, err := c.Submit(context.Background(), SubmitRequest{
			Search: Search{
				SearchType: SearchTypeLawsuitCNJ,
				SearchKey:  "0000001-23.2024.1.02.0000",
				OnDemand:   true,
			},
			WithAttachments: true,
			CallbackURL:     "https://example.com/webhooks/judit",
			CacheTTLDays:    3,
		})
		require.NoError(t, err)
		assert.Equal(t, "req-abc", resp.RequestID)

		assert.Equal(t, SearchTypeLawsuitCNJ, got.Search.SearchType)
		assert.Equal(t, "0000001-23.2024.1.02.0000", got.Search.SearchKey)
		assert.True(t, got.Search.OnDemand)
		assert.True(t, got.WithAttachments)
		assert.Equal(t, 3, got.CacheTTLDays)
	})

	t.Run("missing request_id is a hard error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "pending"})
		}))
		defer server.Close()

		c := NewClient("test-key", WithBaseURL(server.URL))
		_, err := c.Submit(context.Background(), SubmitRequest{
			Search: Search{SearchType: SearchTypeLawsuitCNJ, SearchKey: "x", OnDemand: true},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "request_id")
	})

	t.Run("retries transient failures", func(t *testing.T) {
		attempts := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts++
			if attempts < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			// The retried request must carry the original body.
			var req SubmitRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "0000001-23.2024.1.02.0000", req.Search.SearchKey)
			_ = json.NewEncoder(w).Encode(SubmitResponse{RequestID: "req-retry"})
		}))
		defer server.Close()

		c := NewClient("test-key", WithBaseURL(server.URL))
		resp, err := c.Submit(context.Background(), SubmitRequest{
			Search: Search{SearchType: SearchTypeLawsuitCNJ, SearchKey: "0000001-23.2024.1.02.0000", OnDemand: true},
		})
		require.NoError(t, err)
		assert.Equal(t, "req-retry", resp.RequestID)
		assert.Equal(t, 3, attempts)
	})

	t.Run("client error does not retry", func(t *testing.T) {
		attempts := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts++
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		c := NewClient("bad-key", WithBaseURL(server.URL))
		_, err := c.Submit(context.Background(), SubmitRequest{
			Search: Search{SearchType: SearchTypeLawsuitCNJ, SearchKey: "x", OnDemand: true},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "401")
		assert.Equal(t, 1, attempts)
	})
}

func TestDownloadAttachment(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/requests/req-1/attachments/att-001", r.URL.Path)
			assert.Equal(t, "test-key", r.Header.Get("api-key"))
			_, _ = w.Write([]byte("%PDF-1.4 fake"))
		}))
		defer server.Close()

		c := NewClient("test-key", WithBaseURL(server.URL))
		data, err := c.DownloadAttachment(context.Background(), "req-1", "att-001")
		require.NoError(t, err)
		assert.Equal(t, []byte("%PDF-1.4 fake"), data)
	})

	t.Run("not found", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		c := NewClient("test-key", WithBaseURL(server.URL))
		_, err := c.DownloadAttachment(context.Background(), "req-1", "att-gone")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "404")
	})
}

func TestValidateCallback(t *testing.T) {
	t.Run("valid envelope", func(t *testing.T) {
		body := []byte(`{
			"user_id": "u-1",
			"callback_id": "cb-1",
			"event_type": "response_created",
			"reference_type": "request",
			"reference_id": "req-1",
			"payload": {
				"request_id": "req-1",
				"response_type": "lawsuit",
				"tags": {"cached_response": false}
			}
		}`)
		assert.NoError(t, ValidateCallback(body))
	})

	t.Run("missing request_id", func(t *testing.T) {
		body := []byte(`{"event_type": "response_created", "payload": {}}`)
		assert.Error(t, ValidateCallback(body))
	})

	t.Run("missing event_type", func(t *testing.T) {
		body := []byte(`{"payload": {"request_id": "req-1"}}`)
		assert.Error(t, ValidateCallback(body))
	})

	t.Run("not json", func(t *testing.T) {
		assert.Error(t, ValidateCallback([]byte("not json")))
	})
}
