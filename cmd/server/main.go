package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/keydir/internal/cfg"
	"github.com/keithlinneman/keydir/internal/confhttp"
	"github.com/keithlinneman/keydir/internal/httpserver"
	"github.com/keithlinneman/keydir/internal/keyfile"
	"github.com/keithlinneman/keydir/internal/keysource"
	"github.com/keithlinneman/keydir/internal/keywatch"
	"github.com/keithlinneman/keydir/internal/log"
	"github.com/keithlinneman/keydir/internal/metrics"
	"github.com/keithlinneman/keydir/internal/opshttp"
	"github.com/keithlinneman/keydir/internal/otelx"
	"github.com/keithlinneman/keydir/internal/probe"
	"github.com/keithlinneman/keydir/internal/prof"
	"github.com/keithlinneman/keydir/internal/ratelimit"
	v "github.com/keithlinneman/keydir/internal/version"
)

const appName = "keydir"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Get build/version info
	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			appName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	// Fill in config from environment variables with prefix KEYDIR_ and validate
	cfg.FillFromEnv(flag.CommandLine, "KEYDIR_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	// validate config
	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	stLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:             appName,
		Version:         vi.Version,
		Commit:          vi.Commit,
		BuildId:         vi.BuildId,
		Level:           lvl,
		StacktraceLevel: stLvl,
		JsonFormat:      conf.LogJSON,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	// no-op for slog/stderr, but here if we swap backends in the future to ensure any buffered logs are flushed on shutdown
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"commit_date", vi.CommitDate,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"pyro_server", conf.PyroServer,
		"pyro_tenant", conf.PyroTenantID,
		"trace_sample", conf.TraceSample,
		"source", conf.Source,
		"dir", conf.Dir,
		"ssm_path", conf.SSMPath,
		"s3_bucket", conf.S3Bucket,
		"s3_prefix", conf.S3Prefix,
		"kms_key_arn", conf.KMSKeyARN,
		"optional", conf.Optional,
		"reload", conf.Reload,
		"poll_interval", conf.PollInterval,
	)

	// Setup pyroscope profiling
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       appName,
		AuthToken:     "",
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       appName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
			"build_id":  vi.BuildId,
			"source":    "go-agent",
		},
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer func() { stopProf() }()

	// Setup otel for tracing
	// Insecure is true because we are only writing to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   appName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	// Setup metrics / admin listener
	m := metrics.New()
	m.SetBuildInfoFromVersion(appName, "server", &vi)

	src, err := buildSource(ctx, conf)
	if err != nil {
		L.Error(ctx, err, "failed to construct configuration source")
		os.Exit(1)
	}

	// Ignore policy: -no-ignore includes everything, a custom prefix
	// overrides the default "ignore." rule.
	buildOpts := keyfile.Options{Optional: conf.Optional}
	switch {
	case conf.NoIgnore:
		empty := ""
		buildOpts.IgnorePrefix = &empty
	case conf.IgnorePrefix != keyfile.DefaultIgnorePrefix:
		p := conf.IgnorePrefix
		buildOpts.IgnorePrefix = &p
	}

	store := keyfile.NewStore()
	reloader := keyfile.NewReloader(keyfile.ReloaderOptions{
		Logger:  L,
		Source:  src,
		Options: buildOpts,
		Store:   store,
		Metrics: m,
	})

	// Initial load. With -optional a missing source degrades to an empty
	// snapshot; otherwise a load failure is fatal and systemd restarts us.
	if err := reloader.Load(ctx); err != nil {
		L.Error(ctx, err, "initial configuration load failed", "source", src.String())
		os.Exit(1)
	}
	m.SetSnapshotSource(src.String())
	L.Info(ctx, "initial snapshot loaded",
		"source", src.String(),
		"keys", store.KeyCount(),
		"checksum", store.Checksum(),
	)

	// Change detection per -reload mode
	switch conf.Reload {
	case cfg.ReloadPoll:
		fp, ok := src.(keywatch.Fingerprinter)
		if !ok {
			L.Error(ctx, nil, "source does not support fingerprinting, cannot poll", "source", src.String())
			os.Exit(1)
		}
		watcher := keywatch.NewWatcher(&keywatch.Options{
			Logger:       L,
			Source:       fp,
			Reloader:     reloader,
			PollInterval: conf.PollInterval,
			Metrics:      m,
		})
		go watcher.Run(ctx)
	case cfg.ReloadNotify:
		notifier := keywatch.NewNotifier(&keywatch.NotifierOptions{
			Logger:   L,
			Path:     conf.Dir,
			Reloader: reloader,
			Metrics:  m,
		})
		go func() {
			if err := notifier.Run(ctx); err != nil {
				L.Error(ctx, err, "filesystem notifier stopped", "dir", conf.Dir)
			}
		}()
	}

	// setup config API
	api := confhttp.NewAPI(store, reloader, L)

	// setup toggle for server shutdown
	var gate probe.ShutdownGate

	// readiness requires the shutdown gate open and a published snapshot
	readiness := probe.Multi(
		gate.Probe(),
		probe.Func(func(ctx context.Context) error {
			return store.ReadyErr()
		}),
	)

	// Setup rate limiter middleware for the config API
	limiter := ratelimit.New(ctx,
		// increment prometheus counter on each denied request
		ratelimit.WithOnDenied(func(ip string) {
			m.IncRateLimitDenied()
		}),
		// only log the first time an ip is denied each time it is cleaned from the bucket
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "rate limit triggered", "ip", ip)
		}),
		ratelimit.WithOnCapacity(func() {
			m.IncRateLimitCapacity()
			L.Warn(ctx, "rate limit capacity reached, rejecting new visitors until some are evicted")
		}),
	)

	// start config http server
	apiHTTPStop, err := httpserver.Start(
		ctx,
		httpserver.Options{
			Port:         conf.HTTPPort,
			Health:       probe.Static(true, ""),
			Readiness:    readiness,
			APIRoutes:    func(r chi.Router) { api.RegisterRoutes(r) },
			SnapshotInfo: store,
			UseRecoverMW: true,
			OnPanic:      m.IncHttpPanic,
			MetricsMW:    m.Middleware,
			RateLimitMW:  limiter.Middleware,
			Logger:       L,
		},
	)
	if err != nil {
		L.Error(ctx, err, "failed to start config http listener")
		os.Exit(1)
	}
	defer func() { _ = apiHTTPStop(context.Background()) }()

	// start admin/ops listener to serve metrics, health checks, pprof and any future admin APIs
	// sg restricts inbound to internal monitoring infrastructure
	// we reject connections from public ips and requests with x-forwarded set in middleware
	// to prevent accidental exposure if sg is misconfigured or load balancer ever sends traffic there
	opsHTTPStop, err := opshttp.Start(ctx, L, opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       probe.Static(true, ""),
		Readiness:    readiness,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	// notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// block until signal so we dont exit
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// wait for ctrl+c / sigterm
	<-sigCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	L.Info(context.Background(), "shutdown signal received")

	// fail health checks to drain connections
	gate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	// will make sleep time tunable in the future
	L.Info(context.Background(), "sleeping 60s for in-flight and load balancer health checks to drain")
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(60 * time.Second):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	if err := apiHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "config http server shutdown")
	}

	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}

	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}

	stopProf()

	L.Info(context.Background(), "shutdown complete")
	os.Exit(0)
}

// buildSource constructs the configured key-per-file source, loading AWS
// credentials only when a remote source or KMS decryption is in play.
func buildSource(ctx context.Context, conf cfg.App) (keyfile.Source, error) {
	needAWS := conf.Source == cfg.SourceSSM || conf.Source == cfg.SourceS3 || conf.KMSKeyARN != ""

	var awsCfg aws.Config
	if needAWS {
		c, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		awsCfg = c
	}

	var src keyfile.Source
	switch conf.Source {
	case cfg.SourceDir:
		src = keysource.NewDir(conf.Dir)
	case cfg.SourceSSM:
		src = keysource.NewSSM(ssm.NewFromConfig(awsCfg), conf.SSMPath)
	case cfg.SourceS3:
		src = keysource.NewS3(s3.NewFromConfig(awsCfg), conf.S3Bucket, conf.S3Prefix)
	default:
		return nil, fmt.Errorf("unknown source kind %q", conf.Source)
	}

	if conf.KMSKeyARN != "" {
		src = keysource.NewKMSDecrypt(src, kms.NewFromConfig(awsCfg), conf.KMSKeyARN)
	}
	return src, nil
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	conn.Write([]byte("READY=1"))
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
