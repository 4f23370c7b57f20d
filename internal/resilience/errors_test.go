package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	t.Run("explicit marker", func(t *testing.T) {
		assert.True(t, IsTransient(NewTransientError(errors.New("throttled"), 429)))
	})

	t.Run("marker survives wrapping", func(t *testing.T) {
		inner := NewTransientError(errors.New("gateway"), 502)
		assert.True(t, IsTransient(fmt.Errorf("submit failed: %w", inner)))
	})

	t.Run("nil and plain errors are permanent", func(t *testing.T) {
		assert.False(t, IsTransient(nil))
		assert.False(t, IsTransient(errors.New("cnj: invalid check digits")))
	})

	t.Run("dropped connections", func(t *testing.T) {
		assert.True(t, IsTransient(fmt.Errorf("write tcp: %w", syscall.ECONNRESET)))
		assert.True(t, IsTransient(fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED)))
	})

	t.Run("network timeout", func(t *testing.T) {
		assert.True(t, IsTransient(&net.DNSError{IsTimeout: true, Err: "timeout"}))
	})

	t.Run("flattened client messages", func(t *testing.T) {
		for _, msg := range []string{
			"connection reset by peer",
			"broken pipe",
			"TLS handshake timeout",
			"read: i/o timeout",
			"server closed idle connection",
		} {
			assert.True(t, IsTransient(errors.New(msg)), msg)
		}
	})
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), code)
	}
	for _, code := range []int{200, 201, 400, 401, 403, 404, 409, 422} {
		assert.False(t, IsTransientHTTPStatus(code), code)
	}
}

func TestTransientError(t *testing.T) {
	inner := errors.New("root cause")
	te := NewTransientError(inner, 500)

	assert.ErrorIs(t, te, inner)
	assert.Equal(t, "root cause", te.Error())
	assert.Equal(t, 500, te.StatusCode)
}
