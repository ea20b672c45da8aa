// Package httpx holds HTTP plumbing shared by the gateway adapters and
// the API surface: strict body reading with a size cap, JSON responses in
// the stable {error: string} shape, and per-IP webhook rate limiting.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// MaxWebhookBody is the soft payload cap for webhook endpoints (~50KB).
// Gateway payloads are far smaller; the cap protects against resource
// exhaustion, not legitimate traffic.
const MaxWebhookBody = 50 * 1024

// ErrPayloadTooLarge is returned when the request body exceeds the cap.
var ErrPayloadTooLarge = errors.New("payload too large")

// ReadBody reads the request body, rejecting empty and oversized payloads
// before any parsing happens.
func ReadBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, fmt.Errorf("%w (max %d bytes)", ErrPayloadTooLarge, limit)
		}
		return nil, err
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("empty body")
	}
	return body, nil
}

// WriteJSON writes a JSON response with proper headers.
func WriteJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	//nolint:errcheck // Headers are already sent; nothing useful to do
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError writes the stable caller-facing error shape. Operational
// detail stays in the event log; callers only ever see this string.
func WriteError(w http.ResponseWriter, code int, msg string) {
	WriteJSON(w, code, map[string]string{"error": msg})
}

// ClientIP extracts the client address, preferring the first entry of
// X-Forwarded-For when a proxy set it.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	return r.RemoteAddr
}
