package internal

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Writer is where commands send user-facing output. Library code takes a
// Writer instead of printing to the process streams so callers and tests can
// redirect it.
type Writer interface {
	// Print writes a message to the output stream.
	Print(v ...any)

	// Printf writes a formatted message to the output stream.
	Printf(format string, v ...any)

	// Println writes a message with a newline to the output stream.
	Println(v ...any)

	// Warningf writes a formatted warning to the error stream.
	Warningf(format string, v ...any)

	// JSON writes v as indented JSON followed by a newline.
	JSON(v any) error

	// GetWriter returns the underlying output stream.
	GetWriter() io.Writer
}

// StandardWriter implements Writer on top of two io.Writers.
type StandardWriter struct {
	out io.Writer
	err io.Writer
}

// NewStandardWriter creates a Writer that outputs to stdout and stderr.
func NewStandardWriter() *StandardWriter {
	return NewCustomWriter(os.Stdout, os.Stderr)
}

// NewCustomWriter creates a Writer with custom output streams. The err stream
// receives warnings.
func NewCustomWriter(out, err io.Writer) *StandardWriter {
	return &StandardWriter{
		out: out,
		err: err,
	}
}

func (w *StandardWriter) Print(v ...any) {
	fmt.Fprint(w.out, v...)
}

func (w *StandardWriter) Printf(format string, v ...any) {
	fmt.Fprintf(w.out, format, v...)
}

func (w *StandardWriter) Println(v ...any) {
	fmt.Fprintln(w.out, v...)
}

// Warningf writes to the error stream with a "Warning: " prefix.
func (w *StandardWriter) Warningf(format string, v ...any) {
	fmt.Fprintf(w.err, "Warning: "+format+"\n", v...)
}

func (w *StandardWriter) JSON(v any) error {
	encoder := json.NewEncoder(w.out)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

func (w *StandardWriter) GetWriter() io.Writer {
	return w.out
}
