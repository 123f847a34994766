package httpmw

import (
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SnapshotInfo provides active snapshot identity for headers
type SnapshotInfo interface {
	Checksum() string
	KeyCount() int
}

// SnapshotHeaders middleware adds X-Config-Checksum and X-Config-Keys headers
// to all responses when a snapshot is loaded
func SnapshotHeaders(info SnapshotInfo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if info != nil {
				c := info.Checksum()
				if c != "" {
					// Use short checksum for header (first 12 chars)
					headerChecksum := c
					if len(headerChecksum) > 12 {
						headerChecksum = headerChecksum[:12]
					}
					w.Header().Set("X-Config-Checksum", headerChecksum)
					w.Header().Set("X-Config-Keys", strconv.Itoa(info.KeyCount()))
				}
				// Enrich the current trace span with snapshot identity
				if span := trace.SpanFromContext(r.Context()); span != nil && span.IsRecording() {
					if c != "" {
						span.SetAttributes(
							attribute.String("config.checksum", c),
							attribute.Int("config.keys", info.KeyCount()),
						)
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
