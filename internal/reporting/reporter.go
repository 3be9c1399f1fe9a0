// -- internal/reporting/reporter.go --
package reporting

import (
	"fmt"
	"io"
	"os"

	"github.com/xkilldash9x/lancet-cli/api/schemas"
)

// Reporter defines the interface for writing scan results to an output.
type Reporter interface {
	// Write processes a single result envelope.
	Write(result *schemas.ResultEnvelope) error
	// Close finalizes the report and closes any underlying resources (e.g., file handles).
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a reporter for the given format and output path. An empty or
// "stdout" path writes to standard output.
func New(format, outputPath, toolVersion string) (Reporter, error) {
	var writer io.WriteCloser
	isStdOut := outputPath == "" || outputPath == "stdout"

	if isStdOut {
		// Wrap Stdout so Close() is a no-op.
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}

	switch format {
	case "sarif":
		// The reporter takes ownership of the writer.
		return NewSARIFReporter(writer, toolVersion), nil
	case "json":
		return NewJSONReporter(writer, toolVersion), nil
	default:
		if !isStdOut {
			writer.Close()
		}
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}
