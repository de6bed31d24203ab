package telemetry

import (
	"io"
	"log"
	"os"
	"strings"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// logBridgeWriter intercepts log.Printf output, parses a leading [Tag]
// into a structured attribute, and emits an OTel log record, while still
// writing the original line to stderr.
type logBridgeWriter struct {
	stderr io.Writer
	logger otellog.Logger
}

func (w *logBridgeWriter) Write(p []byte) (int, error) {
	n, err := w.stderr.Write(p)

	line := strings.TrimSpace(string(p))
	if line == "" {
		return n, err
	}

	component, body := parseLogLine(line)

	var record otellog.Record
	record.SetTimestamp(time.Now())
	record.SetBody(otellog.StringValue(body))
	record.SetSeverity(otellog.SeverityInfo)
	record.AddAttributes(otellog.String("component", component))

	w.logger.Emit(nil, record) //nolint:staticcheck // nil context is fine for fire-and-forget

	return n, err
}

// parseLogLine extracts a [Tag] prefix from a log line.
// "2026/02/17 12:00:00 [EchoQuery] rate limited" -> component="echoquery".
// If no [Tag] is found, component is "general".
func parseLogLine(line string) (component, body string) {
	stripped := line
	if len(line) > 20 && line[4] == '/' && line[7] == '/' && line[10] == ' ' && line[13] == ':' {
		stripped = strings.TrimSpace(line[20:])
	}

	if len(stripped) > 2 && stripped[0] == '[' {
		end := strings.IndexByte(stripped, ']')
		if end > 1 {
			component = strings.ToLower(stripped[1:end])
			body = strings.TrimSpace(stripped[end+1:])
			return component, body
		}
	}

	return "general", stripped
}

// InstallLogBridge replaces log's output with a writer that forwards
// log.Printf calls to both stderr and the OTel LoggerProvider. Existing
// log.Printf call sites require zero changes.
func InstallLogBridge(lp *sdklog.LoggerProvider) {
	logger := lp.Logger("rendezvous.log")
	log.SetOutput(&logBridgeWriter{
		stderr: os.Stderr,
		logger: logger,
	})
}
