package steam

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Exporter receives every solver iteration.
type Exporter interface {
	Write(Iteration) error
	Close() error
}

// iterationHeaders are the CSV columns written by CSVExporter.
var iterationHeaders = []string{"iteration", "cost", "cost_change", "step_norm", "damping", "accepted", "duration_s"}

// CSVExporter writes the solver history to a CSV file.
type CSVExporter struct {
	delimiter string
	hdlr      *os.File
}

// Close closes the file.
func (e CSVExporter) Close() (err error) {
	err = e.WriteRawLn(fmt.Sprintf("# Closing date (UTC): %s", time.Now().UTC()))
	if err != nil {
		return
	}
	return e.hdlr.Close()
}

// Write writes one iteration to the CSV file.
func (e CSVExporter) Write(it Iteration) error {
	vals := []string{
		fmt.Sprintf("%d", it.Iteration),
		fmt.Sprintf("%e", it.Cost),
		fmt.Sprintf("%e", it.CostChange),
		fmt.Sprintf("%e", it.StepNorm),
		fmt.Sprintf("%e", it.Damping),
		fmt.Sprintf("%t", it.Accepted),
		fmt.Sprintf("%f", it.Duration.Seconds()),
	}
	_, err := e.hdlr.WriteString(strings.Join(vals, e.delimiter) + "\n")
	return err
}

// WriteRawLn writes a raw line to the CSV file.
func (e CSVExporter) WriteRawLn(s string) error {
	_, err := e.hdlr.WriteString(s + "\n")
	return err
}

// Name returns the path of the file being written.
func (e CSVExporter) Name() string {
	return e.hdlr.Name()
}

// NewCSVExporter initializes a new CSV export.
func NewCSVExporter(dir, filename string) (e *CSVExporter, err error) {
	f, err := os.Create(filepath.Join(dir, filename))
	if err != nil {
		return nil, fmt.Errorf("failed to create export file: %w", err)
	}
	delimiter := ","
	if _, err = f.WriteString(fmt.Sprintf("# Creation date (UTC): %s\n%s\n", time.Now().UTC(), strings.Join(iterationHeaders, delimiter))); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write export header: %w", err)
	}
	return &CSVExporter{delimiter, f}, nil
}
