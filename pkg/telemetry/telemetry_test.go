package telemetry

import (
	"context"
	"os"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestInitNoEndpoint(t *testing.T) {
	t.Parallel()

	os.Unsetenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	shutdown, err := Init(context.Background(), "rendezvous-test", "v0.0.1")
	if err != nil {
		t.Fatalf("Init() with no endpoint should not error, got: %v", err)
	}
	shutdown(context.Background())
}

func TestInitNoEndpointShutdownIsIdempotent(t *testing.T) {
	t.Parallel()

	os.Unsetenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	shutdown, _ := Init(context.Background(), "rendezvous-test", "v0.0.1")
	shutdown(context.Background())
	shutdown(context.Background())
}

func TestParseLogLineWithTag(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		line          string
		wantComponent string
		wantBody      string
	}{
		{
			name:          "tagged with timestamp",
			line:          "2026/02/17 12:00:00 [EchoQuery] rate limited udp source=1.2.3.4",
			wantComponent: "echoquery",
			wantBody:      "rate limited udp source=1.2.3.4",
		},
		{
			name:          "tagged without timestamp",
			line:          "[Rendezvous] tiebreak won by local key",
			wantComponent: "rendezvous",
			wantBody:      "tiebreak won by local key",
		},
		{
			name:          "no tag with timestamp",
			line:          "2026/02/17 12:00:00 plain log message",
			wantComponent: "general",
			wantBody:      "plain log message",
		},
		{
			name:          "no tag no timestamp",
			line:          "plain log message",
			wantComponent: "general",
			wantBody:      "plain log message",
		},
		{
			name:          "empty body after tag",
			line:          "[Telemetry]",
			wantComponent: "telemetry",
			wantBody:      "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			component, body := parseLogLine(tt.line)
			if component != tt.wantComponent {
				t.Errorf("parseLogLine(%q) component = %q, want %q", tt.line, component, tt.wantComponent)
			}
			if body != tt.wantBody {
				t.Errorf("parseLogLine(%q) body = %q, want %q", tt.line, body, tt.wantBody)
			}
		})
	}
}

func TestBuildResource(t *testing.T) {
	t.Parallel()

	res, err := buildResource(context.Background(), "rendezvous", "v1.0.0")
	if err != nil {
		t.Fatalf("buildResource() error = %v", err)
	}
	if res == nil {
		t.Fatal("buildResource() returned nil resource")
	}

	found := make(map[string]bool)
	for _, attr := range res.Attributes() {
		found[string(attr.Key)] = true
	}

	for _, key := range []string{"service.name", "service.version", "host.name"} {
		if !found[key] {
			t.Errorf("buildResource() missing attribute %q", key)
		}
	}
}

func TestBuildResourceCarriesExtraAttrs(t *testing.T) {
	t.Parallel()

	res, err := buildResource(context.Background(), "rendezvous", "v1.0.0",
		attribute.String("rendezvous.pubkey", "abc123"))
	if err != nil {
		t.Fatalf("buildResource() error = %v", err)
	}

	for _, attr := range res.Attributes() {
		if string(attr.Key) == "rendezvous.pubkey" && attr.Value.AsString() == "abc123" {
			return
		}
	}
	t.Error("buildResource() did not carry the extra rendezvous.pubkey attribute")
}
