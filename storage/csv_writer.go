package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"moto-scraper/models"
)

// csvColumns is the fixed column order for the raw dump.
var csvColumns = []string{
	"id", "url", "title", "km", "price", "year",
	"imgUrl", "provinceId", "hp", "marca", "modelo",
}

// CSVWriter writes raw (un-normalized) listing records to a CSV file.
// It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// NewCSVWriter creates (or truncates) the CSV file at the given path and
// writes the header row. Intermediate directories are created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create file %q: %w", path, err)
	}

	w := csv.NewWriter(f)

	if err := w.Write(csvColumns); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: write header: %w", err)
	}
	w.Flush()

	return &CSVWriter{file: f, writer: w}, nil
}

// WriteRaw appends one batch of raw records, stamped with the batch's
// marca/modelo, exactly as they came out of the source file.
func (c *CSVWriter) WriteRaw(batch *models.Batch) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, rec := range batch.Records {
		row := make([]string, 0, len(csvColumns))
		for _, col := range csvColumns {
			switch col {
			case "marca":
				row = append(row, batch.Marca)
			case "modelo":
				row = append(row, batch.Modelo)
			default:
				row = append(row, formatRawValue(rec[col]))
			}
		}
		if err := c.writer.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.writer.Flush()
	return c.file.Close()
}

func formatRawValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
