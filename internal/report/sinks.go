package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/callrank/callrank/internal/io"
	"github.com/callrank/callrank/internal/reputation"
	"github.com/callrank/callrank/internal/roi"
)

var csvHeader = []string{
	"address", "chain", "symbol", "channel", "signal_number",
	"start_price", "start_time", "current_price", "current_time",
	"ath_price", "ath_time", "current_multiplier", "ath_multiplier",
	"day7_multiplier", "day30_multiplier", "trajectory",
	"is_complete", "outcome_category",
}

// CSVTable is an upsert-by-address performance table. Each Upsert replaces
// the row for that address and rewrites the file atomically.
type CSVTable struct {
	mu   sync.Mutex
	path string
	rows map[string]PerformanceData
}

// NewCSVTable opens (or creates) the table at path, loading existing rows so
// upserts survive restarts.
func NewCSVTable(path string) (*CSVTable, error) {
	t := &CSVTable{path: path, rows: make(map[string]PerformanceData)}
	if err := t.load(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *CSVTable) load() error {
	f, err := os.Open(t.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return fmt.Errorf("read performance table: %w", err)
	}
	for i, rec := range records {
		if i == 0 || len(rec) != len(csvHeader) {
			continue
		}
		pd := recordToRow(rec)
		t.rows[pd.Address] = pd
	}
	return nil
}

// Upsert replaces the row keyed by pd.Address and flushes the table.
func (t *CSVTable) Upsert(pd PerformanceData) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows[pd.Address] = pd
	return t.flushLocked()
}

func (t *CSVTable) flushLocked() error {
	addrs := make([]string, 0, len(t.rows))
	for addr := range t.rows {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	records := make([][]string, 0, len(t.rows)+1)
	records = append(records, csvHeader)
	for _, addr := range addrs {
		records = append(records, rowToRecord(t.rows[addr]))
	}
	return io.WriteCSVAtomic(t.path, records)
}

func rowToRecord(pd PerformanceData) []string {
	return []string{
		pd.Address, pd.Chain, pd.Symbol, pd.ChannelName,
		strconv.Itoa(pd.SignalNumber),
		fmtFloat(pd.StartPrice), fmtTime(pd.StartTime),
		fmtFloat(pd.CurrentPrice), fmtTime(pd.CurrentTime),
		fmtFloat(pd.ATHPrice), fmtTime(pd.ATHTime),
		fmtFloat(pd.CurrentMultiplier), fmtFloat(pd.ATHMultiplier),
		fmtFloat(pd.Day7Multiplier), fmtFloat(pd.Day30Multiplier),
		string(pd.Trajectory),
		strconv.FormatBool(pd.IsComplete), pd.OutcomeCategory,
	}
}

func recordToRow(rec []string) PerformanceData {
	num, _ := strconv.Atoi(rec[4])
	complete, _ := strconv.ParseBool(rec[16])
	return PerformanceData{
		Address:           rec[0],
		Chain:             rec[1],
		Symbol:            rec[2],
		ChannelName:       rec[3],
		SignalNumber:      num,
		StartPrice:        parseFloat(rec[5]),
		StartTime:         parseTime(rec[6]),
		CurrentPrice:      parseFloat(rec[7]),
		CurrentTime:       parseTime(rec[8]),
		ATHPrice:          parseFloat(rec[9]),
		ATHTime:           parseTime(rec[10]),
		CurrentMultiplier: parseFloat(rec[11]),
		ATHMultiplier:     parseFloat(rec[12]),
		Day7Multiplier:    parseFloat(rec[13]),
		Day30Multiplier:   parseFloat(rec[14]),
		Trajectory:        roi.Trajectory(rec[15]),
		IsComplete:        complete,
		OutcomeCategory:   rec[17],
	}
}

func fmtFloat(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
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

// JSONLLog is an append-only newline-delimited JSON message log.
type JSONLLog struct {
	mu   sync.Mutex
	path string
}

// NewJSONLLog creates a log writing to path.
func NewJSONLLog(path string) *JSONLLog {
	return &JSONLLog{path: path}
}

// Append writes one record as a single JSON line.
func (l *JSONLLog) Append(v any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// WriteReputationSnapshot dumps all channel reputations to a timestamped
// JSON file, atomically.
func WriteReputationSnapshot(path string, reps map[string]*reputation.ChannelReputation) error {
	snapshot := struct {
		GeneratedAt time.Time                                `json:"generated_at"`
		Channels    map[string]*reputation.ChannelReputation `json:"channels"`
	}{
		GeneratedAt: time.Now().UTC(),
		Channels:    reps,
	}
	return io.WriteJSONAtomic(path, snapshot)
}
