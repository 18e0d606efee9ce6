package observability

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/docflow/internal/config"
	"github.com/smallbiznis/docflow/internal/observability/logger"
	"github.com/smallbiznis/docflow/internal/observability/metrics"
	"github.com/smallbiznis/docflow/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

// Config is the observability view of the process config.
type Config struct {
	ServiceName    string
	Environment    string
	Version        string
	LogLevel       string
	LogFormat      string
	MetricsEnabled bool

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		Config.Logger,
		logger.New,
		Config.Metrics,
		func() (prometheus.Registerer, prometheus.Gatherer) {
			return prometheus.DefaultRegisterer, prometheus.DefaultGatherer
		},
		metrics.New,
		Config.Tracing,
		tracing.NewTracerProvider,
	),
	fx.Invoke(ensureTracingProvider),
)

func ensureTracingProvider(_ *sdktrace.TracerProvider) {}

func LoadConfig(cfg config.Config) Config {
	name := strings.TrimSpace(cfg.AppName)
	if name == "" {
		name = "docflow"
	}
	return Config{
		ServiceName:    name,
		Environment:    strings.ToLower(strings.TrimSpace(cfg.Environment)),
		Version:        strings.TrimSpace(cfg.AppVersion),
		LogLevel:       strings.ToLower(strings.TrimSpace(cfg.LogLevel)),
		LogFormat:      strings.ToLower(strings.TrimSpace(cfg.LogFormat)),
		MetricsEnabled: cfg.MetricsEnabled,

		OtelEnabled:          cfg.OtelEnabled,
		OtelExporterEndpoint: strings.TrimSpace(cfg.OtelExporterEndpoint),
		OtelExporterProtocol: strings.ToLower(strings.TrimSpace(cfg.OtelExporterProtocol)),
		OtelSamplingRatio:    cfg.OtelSamplingRatio,
	}
}

// Debug is true for debug logging or a local environment. It turns on
// gin debug mode and stack traces on failed requests.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch c.Environment {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func (c Config) Logger() logger.Config {
	return logger.Config{
		ServiceName:         c.ServiceName,
		Environment:         c.Environment,
		Version:             c.Version,
		Level:               c.LogLevel,
		Format:              c.LogFormat,
		IncludeCaller:       true,
		IncludeStackOnError: c.Debug(),
	}
}

func (c Config) Metrics() metrics.Config {
	return metrics.Config{
		Enabled:     c.MetricsEnabled,
		ServiceName: c.ServiceName,
		Environment: c.Environment,
	}
}

func (c Config) Tracing() tracing.Config {
	return tracing.Config{
		Enabled:          c.OtelEnabled,
		ServiceName:      c.ServiceName,
		ServiceVersion:   c.Version,
		Environment:      c.Environment,
		ExporterEndpoint: c.OtelExporterEndpoint,
		ExporterProtocol: c.OtelExporterProtocol,
		SamplingRatio:    c.OtelSamplingRatio,
	}
}
