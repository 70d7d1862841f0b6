package tasks

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

type CSVUpdateConfig struct {
	CSVFile string `json:"csvfile"`
	// DropColIndex counts from zero; negative values count from the end.
	DropColIndex int    `json:"dropColIndex"`
	NewFileName  string `json:"newFileName"`
	RemoveHeader bool   `json:"removeHeader"`
}

// CSVUpdate rewrites a CSV file without one column, optionally dropping
// its header row, so it can be imported into Cloud SQL.
func (r *Runner) CSVUpdate(ctx context.Context, cfg CSVUpdateConfig) error {
	if cfg.CSVFile == "" || cfg.NewFileName == "" {
		return errors.New("csv_update: csvfile and newFileName are required")
	}
	in, err := os.Open(cfg.CSVFile)
	if err != nil {
		return err
	}
	defer in.Close()

	records, err := csv.NewReader(in).ReadAll()
	if err != nil {
		return fmt.Errorf("read %s: %w", cfg.CSVFile, err)
	}
	if len(records) == 0 {
		return fmt.Errorf("csv_update: %s has no header row", cfg.CSVFile)
	}
	width := len(records[0])
	col := cfg.DropColIndex
	if col < 0 {
		col += width
	}
	if col < 0 || col >= width {
		return fmt.Errorf("csv_update: column %d out of range for %d columns", cfg.DropColIndex, width)
	}

	if cfg.RemoveHeader {
		records = records[1:]
	}
	out, err := os.Create(cfg.NewFileName)
	if err != nil {
		return err
	}
	w := csv.NewWriter(out)
	for _, rec := range records {
		kept := make([]string, 0, len(rec))
		kept = append(kept, rec[:col]...)
		kept = append(kept, rec[col+1:]...)
		if err := w.Write(kept); err != nil {
			out.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		out.Close()
		return err
	}
	zerolog.Ctx(ctx).Debug().Str("file", cfg.NewFileName).Int("rows", len(records)).Msg("csv rewritten")
	return out.Close()
}
