package telemetry

// Config configures OpenTelemetry tracing.
type Config struct {
	Enabled bool

	ServiceName    string
	ServiceVersion string

	// Node identifies this server among the nodes sharing a status backend.
	// It is exported as service.instance.id.
	Node string

	// Endpoint is the OTLP gRPC collector address, e.g. "localhost:4317".
	Endpoint string
	Insecure bool

	// SampleRate is the fraction of rpc traces kept, from 0.0 to 1.0.
	SampleRate float64
}

// DefaultConfig returns tracing disabled with a local collector endpoint.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "netconfd",
		ServiceVersion: "dev",
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRate:     1.0,
	}
}
