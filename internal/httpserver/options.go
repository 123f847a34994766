package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/keydir/internal/httpmw"
	"github.com/keithlinneman/keydir/internal/log"
	"github.com/keithlinneman/keydir/internal/probe"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func() // called on recovered handler panics (metrics hook)
	MetricsMW    func(http.Handler) http.Handler
	RateLimitMW  func(http.Handler) http.Handler
	ClientIPOpts httpmw.ClientIPOptions
	Health       probe.Probe
	Readiness    probe.Probe
	SnapshotInfo httpmw.SnapshotInfo // For X-Config-Checksum and X-Config-Keys headers

	// APIRoutes registers the application's routes on the router.
	APIRoutes func(chi.Router)
}
