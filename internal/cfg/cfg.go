package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/keithlinneman/keydir/internal/log"
)

// Source kinds accepted by -source.
const (
	SourceDir = "dir"
	SourceSSM = "ssm"
	SourceS3  = "s3"
)

// Reload modes accepted by -reload.
const (
	ReloadOff    = "off"
	ReloadPoll   = "poll"
	ReloadNotify = "notify"
)

type App struct {
	LogJSON         bool
	LogLevel        string
	StacktraceLevel string
	HTTPPort        int
	AdminPort       int
	EnablePprof     bool
	EnablePyroscope bool
	EnableTracing   bool
	PyroServer      string
	PyroTenantID    string
	OTLPEndpoint    string
	TraceSample     float64

	Source    string
	Dir       string
	SSMPath   string
	S3Bucket  string
	S3Prefix  string
	KMSKeyARN string

	Optional     bool
	IgnorePrefix string
	NoIgnore     bool

	Reload       string
	PollInterval time.Duration
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")

	fs.StringVar(&c.Source, "source", SourceDir, "configuration source kind: dir|ssm|s3")
	fs.StringVar(&c.Dir, "dir", "", "absolute directory to read key-per-file entries from (source=dir)")
	fs.StringVar(&c.SSMPath, "ssm-path", "", "SSM parameter path to read entries from, must start with / (source=ssm)")
	fs.StringVar(&c.S3Bucket, "s3-bucket", "", "s3 bucket to read entries from (source=s3)")
	fs.StringVar(&c.S3Prefix, "s3-prefix", "", "s3 key prefix to read entries under (source=s3)")
	fs.StringVar(&c.KMSKeyARN, "kms-key-arn", "", "KMS key ARN for decrypting entry values (optional)")

	fs.BoolVar(&c.Optional, "optional", false, "serve an empty snapshot when the source is missing instead of failing")
	fs.StringVar(&c.IgnorePrefix, "ignore-prefix", "ignore.", "skip entries whose name starts with this prefix")
	fs.BoolVar(&c.NoIgnore, "no-ignore", false, "include all entries regardless of name prefix")

	fs.StringVar(&c.Reload, "reload", ReloadOff, "change detection mode: off|poll|notify")
	fs.DurationVar(&c.PollInterval, "poll-interval", 30*time.Second, "fingerprint poll interval (reload=poll)")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// Pyroscope (URL and scheme)
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
	}

	// Pyroscope tenant
	if c.EnablePyroscope {
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Source selection
	switch c.Source {
	case SourceDir:
		if c.Dir == "" {
			errs = append(errs, fmt.Errorf("DIR is required when SOURCE=dir"))
		}
	case SourceSSM:
		if c.SSMPath == "" {
			errs = append(errs, fmt.Errorf("SSM_PATH is required when SOURCE=ssm"))
		} else if !strings.HasPrefix(c.SSMPath, "/") {
			errs = append(errs, fmt.Errorf("SSM_PATH must start with / (got %q)", c.SSMPath))
		}
	case SourceS3:
		if c.S3Bucket == "" {
			errs = append(errs, fmt.Errorf("S3_BUCKET is required when SOURCE=s3"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid SOURCE %q (must be dir|ssm|s3)", c.Source))
	}

	// Reload mode
	switch c.Reload {
	case ReloadOff:
	case ReloadPoll:
		if c.PollInterval < time.Second {
			errs = append(errs, fmt.Errorf("POLL_INTERVAL must be at least 1s (got %s)", c.PollInterval))
		}
	case ReloadNotify:
		// fsnotify only watches local directories
		if c.Source != SourceDir {
			errs = append(errs, fmt.Errorf("RELOAD=notify requires SOURCE=dir (got %q)", c.Source))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid RELOAD %q (must be off|poll|notify)", c.Reload))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
