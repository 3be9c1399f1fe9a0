// internal/reporting/json_reporter.go
package reporting

import (
	"fmt"
	"io"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/lancet-cli/api/schemas"
	"github.com/xkilldash9x/lancet-cli/internal/observability"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// jsonReport is the top level document the JSON reporter emits.
type jsonReport struct {
	Tool        string                    `json:"tool"`
	ToolVersion string                    `json:"tool_version"`
	GeneratedAt time.Time                 `json:"generated_at"`
	Scans       []*schemas.ResultEnvelope `json:"scans"`
}

// JSONReporter buffers result envelopes and emits a single JSON document on
// Close. It is thread safe.
type JSONReporter struct {
	writer io.WriteCloser
	logger *zap.Logger

	mu     sync.Mutex
	report jsonReport
}

// NewJSONReporter creates a reporter that writes a machine readable JSON
// report. The reporter takes ownership of the writer.
func NewJSONReporter(writer io.WriteCloser, toolVersion string) *JSONReporter {
	return &JSONReporter{
		writer: writer,
		logger: observability.GetLogger().Named("json_reporter"),
		report: jsonReport{
			Tool:        ToolName,
			ToolVersion: toolVersion,
			Scans:       []*schemas.ResultEnvelope{},
		},
	}
}

// Write buffers one result envelope.
func (r *JSONReporter) Write(result *schemas.ResultEnvelope) error {
	if result == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.Scans = append(r.report.Scans, result)
	return nil
}

// Close stamps the report, writes it out and closes the writer.
func (r *JSONReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.report.GeneratedAt = time.Now().UTC()

	var total int
	for _, scan := range r.report.Scans {
		total += len(scan.Findings)
	}
	r.logger.Info("Finalizing JSON report",
		zap.Int("scans", len(r.report.Scans)),
		zap.Int("total_findings", total),
	)

	encoder := jsonAPI.NewEncoder(r.writer)
	encoder.SetIndent("", "  ")

	encodeErr := encoder.Encode(r.report)
	closeErr := r.writer.Close()

	if encodeErr != nil {
		r.logger.Error("Failed to encode JSON report", zap.Error(encodeErr))
		return fmt.Errorf("failed to encode JSON report: %w", encodeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	return nil
}
