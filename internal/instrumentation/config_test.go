package instrumentation

import "testing"

func clearInstrumentationEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"OTEL_SERVICE_NAME",
		"INSTRUMENTATION_ENABLED",
		"METRICS_EXPORTER",
		"TRACING_EXPORTER",
		"OTEL_TRACES_SAMPLER_ARG",
		"OTEL_EXPORTER_OTLP_ENDPOINT",
	} {
		t.Setenv(key, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	clearInstrumentationEnv(t)

	config := DefaultConfig()

	if got, want := config.ServiceName, "mailledger"; got != want {
		t.Errorf("ServiceName = %q, want %q", got, want)
	}
	if !config.Enabled {
		t.Error("Enabled = false, want true by default")
	}
	if got, want := config.MetricsExporter, ExporterPrometheus; got != want {
		t.Errorf("MetricsExporter = %q, want %q", got, want)
	}
	if got, want := config.TracingExporter, ExporterNone; got != want {
		t.Errorf("TracingExporter = %q, want %q", got, want)
	}
	if got, want := config.TraceSamplingRate, 0.1; got != want {
		t.Errorf("TraceSamplingRate = %v, want %v", got, want)
	}
}

func TestDefaultConfigReadsEnv(t *testing.T) {
	clearInstrumentationEnv(t)
	t.Setenv("OTEL_SERVICE_NAME", "env-service")
	t.Setenv("INSTRUMENTATION_ENABLED", "false")
	t.Setenv("METRICS_EXPORTER", "stdout")
	t.Setenv("TRACING_EXPORTER", "stdout")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.5")

	config := DefaultConfig()

	if got, want := config.ServiceName, "env-service"; got != want {
		t.Errorf("ServiceName = %q, want %q", got, want)
	}
	if config.Enabled {
		t.Error("Enabled = true, want false from environment")
	}
	if got, want := config.MetricsExporter, ExporterStdout; got != want {
		t.Errorf("MetricsExporter = %q, want %q", got, want)
	}
	if got, want := config.TraceSamplingRate, 0.5; got != want {
		t.Errorf("TraceSamplingRate = %v, want %v", got, want)
	}
}

func TestConfigValidate(t *testing.T) {
	valid := func(metrics, tracing, endpoint string, rate float64) Config {
		return Config{
			MetricsExporter:   metrics,
			TracingExporter:   tracing,
			OTLPEndpoint:      endpoint,
			TraceSamplingRate: rate,
		}
	}

	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"prometheus metrics, no tracing", valid(ExporterPrometheus, ExporterNone, "", 0.1), false},
		{"otlp both with endpoint", valid(ExporterOTLP, ExporterOTLP, "localhost:4318", 1.0), false},
		{"stdout exporters", valid(ExporterStdout, ExporterStdout, "", 0.0), false},
		{"sampling rate above one", valid(ExporterPrometheus, ExporterNone, "", 1.5), true},
		{"sampling rate below zero", valid(ExporterPrometheus, ExporterNone, "", -0.1), true},
		{"unknown metrics exporter", valid("statsd", ExporterNone, "", 0.1), true},
		{"unknown tracing exporter", valid(ExporterPrometheus, "jaeger", "", 0.1), true},
		{"otlp tracing without endpoint", valid(ExporterPrometheus, ExporterOTLP, "", 0.1), true},
		{"otlp metrics without endpoint", valid(ExporterOTLP, ExporterNone, "", 0.1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestExtractSenderDomain(t *testing.T) {
	tests := []struct {
		email string
		want  string
	}{
		{"billing@coffeeco.example", "coffeeco.example"},
		{"user@gmail.com", "gmail.com"},
		{"invalid", "unknown"},
		{"", "unknown"},
		{"trailing@", "unknown"},
		{"two@ats@here", "unknown"},
	}

	for _, tt := range tests {
		if got := ExtractSenderDomain(tt.email); got != tt.want {
			t.Errorf("ExtractSenderDomain(%q) = %q, want %q", tt.email, got, tt.want)
		}
	}
}
