// Package tradelog appends one fixed-shape CSV row per closed trade. The
// file is created with a header when absent; an existing file with a wrong
// header is quarantined (renamed aside) instead of crashing the bot or
// corrupting the log.
package tradelog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"solotrader/internal/domain"
)

// header is the fixed column set. Changing it requires a new file; old files
// with a different header are quarantined on first use.
var header = []string{
	"entry_time", "exit_time", "direction", "size",
	"entry_price", "exit_price",
	"profit_points", "profit_cash",
	"r_points", "sl", "tp",
	"exit_reason", "deal_id", "close_ref", "meta",
}

// Log is a CSV trade log.
type Log struct {
	path string
	mu   sync.Mutex
}

// Open ensures the log file at path exists with a valid header, quarantining
// any malformed existing file, and returns the Log.
func Open(path string) (*Log, error) {
	l := &Log{path: path}
	if err := l.ensureHeader(); err != nil {
		return nil, err
	}
	return l, nil
}

// Path returns the log file location.
func (l *Log) Path() string { return l.path }

// Append writes one trade record row.
func (l *Log) Append(r domain.TradeRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.ensureHeader(); err != nil {
		return err
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening trade log: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(recordRow(r)); err != nil {
		return fmt.Errorf("writing trade row: %w", err)
	}
	w.Flush()
	return w.Error()
}

// ReadAll returns every recorded trade. Rows that fail to parse are skipped.
func (l *Log) ReadAll() ([]domain.TradeRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	rd := csv.NewReader(f)
	rd.FieldsPerRecord = len(header)

	// Skip header.
	if _, err := rd.Read(); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, err
	}

	var out []domain.TradeRecord
	for {
		row, err := rd.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		out = append(out, parseRow(row))
	}
	return out, nil
}

// SummarizeDay aggregates closed trades whose exit time falls on the given
// local date in loc. Used for the end-of-session summary notification.
func (l *Log) SummarizeDay(date string, loc *time.Location) (trades, wins int, totalPnL float64, err error) {
	all, err := l.ReadAll()
	if err != nil {
		return 0, 0, 0, err
	}
	for _, r := range all {
		if r.ExitTime.In(loc).Format("2006-01-02") != date {
			continue
		}
		trades++
		totalPnL += r.ProfitCash
		if r.ProfitCash > 0 {
			wins++
		}
	}
	return trades, wins, totalPnL, nil
}

// ensureHeader creates the file with a header when absent or empty, and
// quarantines an existing file whose first row is not the expected header.
func (l *Log) ensureHeader() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("creating trade log directory: %w", err)
	}

	info, err := os.Stat(l.path)
	if os.IsNotExist(err) || (err == nil && info.Size() == 0) {
		return l.writeHeader()
	}
	if err != nil {
		return err
	}

	f, err := os.Open(l.path)
	if err != nil {
		return err
	}
	first, rerr := csv.NewReader(f).Read()
	f.Close()

	if rerr == nil && equalRow(first, header) {
		return nil
	}

	// Wrong shape: preserve the bad file under a timestamped name and start
	// a fresh log.
	quarantine := fmt.Sprintf("%s.bad.%s", l.path, time.Now().UTC().Format("20060102_150405"))
	if err := os.Rename(l.path, quarantine); err != nil {
		return fmt.Errorf("quarantining malformed trade log: %w", err)
	}
	return l.writeHeader()
}

func (l *Log) writeHeader() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("creating trade log: %w", err)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func recordRow(r domain.TradeRecord) []string {
	return []string{
		fmtTime(r.EntryTime), fmtTime(r.ExitTime), string(r.Direction), fmtF(r.Size),
		fmtF(r.EntryPrice), fmtF(r.ExitPrice),
		fmtF(r.ProfitPoints), fmtF(r.ProfitCash),
		fmtF(r.RPoints), fmtF(r.Stop), fmtF(r.Target),
		string(r.Reason), r.DealID, r.CloseRef, r.Meta,
	}
}

func parseRow(row []string) domain.TradeRecord {
	dir, _ := domain.ParseDirection(row[2])
	return domain.TradeRecord{
		EntryTime:    parseTime(row[0]),
		ExitTime:     parseTime(row[1]),
		Direction:    dir,
		Size:         parseF(row[3]),
		EntryPrice:   parseF(row[4]),
		ExitPrice:    parseF(row[5]),
		ProfitPoints: parseF(row[6]),
		ProfitCash:   parseF(row[7]),
		RPoints:      parseF(row[8]),
		Stop:         parseF(row[9]),
		Target:       parseF(row[10]),
		Reason:       domain.ExitReason(row[11]),
		DealID:       row[12],
		CloseRef:     row[13],
		Meta:         row[14],
	}
}

func equalRow(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

func fmtF(f float64) string { return strconv.FormatFloat(f, 'f', 4, 64) }

func parseF(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
