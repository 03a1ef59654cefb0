package instrumentation

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config controls which exporters the Provider wires up. All fields have
// environment-driven defaults; see DefaultConfig.
type Config struct {
	ServiceName    string
	ServiceVersion string

	// ServiceInstanceID defaults to the hostname when empty.
	ServiceInstanceID string

	// Enabled turns the whole subsystem into no-ops when false.
	Enabled bool

	// MetricsExporter is prometheus, otlp or stdout.
	MetricsExporter string

	// TracingExporter is otlp, stdout or none.
	TracingExporter string

	// OTLPEndpoint is host:port without a protocol prefix.
	OTLPEndpoint string

	// OTLPInsecure permits plain HTTP export, for local collectors only.
	OTLPInsecure bool

	// TraceSamplingRate is the head sampling ratio in [0, 1].
	TraceSamplingRate float64

	// DetailedLabels adds the sender-domain label to conversation metrics.
	// Off by default to keep cardinality down.
	DetailedLabels bool
}

// DefaultConfig reads the instrumentation settings from the environment.
func DefaultConfig() Config {
	return Config{
		ServiceName:       envOr("OTEL_SERVICE_NAME", "mailledger"),
		ServiceVersion:    "unknown",
		ServiceInstanceID: os.Getenv("OTEL_SERVICE_INSTANCE_ID"),
		Enabled:           envBool("INSTRUMENTATION_ENABLED", true),
		MetricsExporter:   envOr("METRICS_EXPORTER", ExporterPrometheus),
		TracingExporter:   envOr("TRACING_EXPORTER", ExporterNone),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPInsecure:      envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		TraceSamplingRate: envFloat("OTEL_TRACES_SAMPLER_ARG", 0.1),
		DetailedLabels:    envBool("METRICS_DETAILED_LABELS", false),
	}
}

// Validate rejects combinations the Provider cannot build.
func (c *Config) Validate() error {
	if c.TraceSamplingRate < 0 || c.TraceSamplingRate > 1 {
		return fmt.Errorf("trace sampling rate %f outside [0, 1]", c.TraceSamplingRate)
	}
	switch c.MetricsExporter {
	case "", ExporterPrometheus, ExporterOTLP, ExporterStdout:
	default:
		return fmt.Errorf("metrics exporter %q is not one of prometheus, otlp, stdout", c.MetricsExporter)
	}
	switch c.TracingExporter {
	case "", ExporterOTLP, ExporterStdout, ExporterNone:
	default:
		return fmt.Errorf("tracing exporter %q is not one of otlp, stdout, none", c.TracingExporter)
	}
	if c.OTLPEndpoint == "" && (c.MetricsExporter == ExporterOTLP || c.TracingExporter == ExporterOTLP) {
		return fmt.Errorf("otlp exporters need an OTLP endpoint")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func envFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return fallback
	}
	return v
}

// Metric label values.
const (
	// Cycle and stage result values
	ResultSuccess = "success"
	ResultError   = "error"

	// Conversation outcome values
	OutcomeAnalyzed         = "analyzed"
	OutcomeSkippedDuplicate = "skipped_duplicate"
	OutcomeRejected         = "rejected"
	OutcomeNonTransactional = "non_transactional"

	// Persistence outcome values
	OutcomeStored    = "stored"
	OutcomeDuplicate = "duplicate"

	// Mailbox API operation names
	OperationList = "list"
	OperationGet  = "get"

	// Exporter types
	ExporterPrometheus = "prometheus"
	ExporterOTLP       = "otlp"
	ExporterStdout     = "stdout"
	ExporterNone       = "none"
)

// ExtractSenderDomain reduces a sender address to its domain so metric
// labels stay low-cardinality. Addresses without a parseable domain map
// to "unknown".
func ExtractSenderDomain(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) == 2 && parts[1] != "" {
		return parts[1]
	}
	return "unknown"
}
