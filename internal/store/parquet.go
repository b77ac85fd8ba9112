package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"solotrader/internal/domain"
)

// Compile-time interface check.
var _ BarArchive = (*ParquetArchive)(nil)

// ParquetArchive implements BarArchive with one Parquet file per symbol and
// year under the data directory.
type ParquetArchive struct {
	DataDir string
}

// NewParquetArchive creates a ParquetArchive rooted at dataDir.
func NewParquetArchive(dataDir string) *ParquetArchive {
	return &ParquetArchive{DataDir: dataDir}
}

// barRecord is the on-disk Parquet schema.
type barRecord struct {
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    float64 `parquet:"volume"`
}

// WriteBars merges bars into the per-year files for the symbol. Existing
// timestamps are overwritten by the incoming bars, so re-archiving a window
// is idempotent.
func (a *ParquetArchive) WriteBars(_ context.Context, symbol string, bars domain.Series) error {
	if len(bars) == 0 {
		return nil
	}

	groups := make(map[int][]barRecord)
	for _, b := range bars {
		y := b.Time.UTC().Year()
		groups[y] = append(groups[y], barRecord{
			Timestamp: b.Time.UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}

	for year, records := range groups {
		path := a.barPath(symbol, year)

		existing, _ := readParquetFile[barRecord](path)
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", symbol, year, err)
		}
	}
	return nil
}

// ReadBars returns archived bars for the symbol within [start, end].
func (a *ParquetArchive) ReadBars(_ context.Context, symbol string, start, end time.Time) (domain.Series, error) {
	var bars domain.Series
	for year := start.Year(); year <= end.Year(); year++ {
		records, err := readParquetFile[barRecord](a.barPath(symbol, year))
		if err != nil {
			// No file for this year.
			continue
		}
		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if ts.Before(start) || ts.After(end) {
				continue
			}
			bars = append(bars, domain.Bar{
				Time:   ts,
				Open:   r.Open,
				High:   r.High,
				Low:    r.Low,
				Close:  r.Close,
				Volume: r.Volume,
			})
		}
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	return bars, nil
}

// barPath returns <dataDir>/<SYMBOL>/<YYYY>.parquet.
func (a *ParquetArchive) barPath(symbol string, year int) string {
	return filepath.Join(a.DataDir, strings.ToUpper(symbol), fmt.Sprintf("%d.parquet", year))
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	return parquet.ReadFile[T](path)
}

// mergeBarRecords deduplicates by timestamp, preferring incoming records,
// and returns the result sorted by time.
func mergeBarRecords(existing, incoming []barRecord) []barRecord {
	seen := make(map[int64]barRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}

	merged := make([]barRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
