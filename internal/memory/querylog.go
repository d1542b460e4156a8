package memory

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/charmbracelet/log"

	"github.com/mleone/durmem/internal/store"
)

const (
	queryLogMaxBytes = 1 << 20 // rotate past 1 MiB
	queryLogMaxLines = 10000
)

// QueryLog records query shapes for later trend analysis. It fails open:
// every error is swallowed and surfaced only as a warning, never to the
// caller of a query.
type QueryLog struct {
	dir string
}

// NewQueryLog returns a logger writing per-scope files under dir.
func NewQueryLog(dir string) *QueryLog {
	return &QueryLog{dir: dir}
}

type queryLogLine struct {
	Time        time.Time `json:"ts"`
	Scope       string    `json:"scope,omitempty"`
	Section     string    `json:"section,omitempty"`
	Subject     string    `json:"subject,omitempty"`
	ResultCount int       `json:"result_count"`
	DurationMs  int64     `json:"duration_ms"`
}

// KeyCount is one counted key in a trend list.
type KeyCount struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// QueryTrends is the analysis derived purely from the log.
type QueryTrends struct {
	TopSubjects    []KeyCount     `json:"top_subjects,omitempty"`
	TopScopes      []KeyCount     `json:"top_scopes,omitempty"`
	FrequencyByDay map[string]int `json:"frequency_by_day"`
}

func (l *QueryLog) path(scope string) string {
	name := "all"
	if scope != "" {
		name = store.SanitizeTag(scope)
	}
	return filepath.Join(l.dir, name+".jsonl")
}

// Record appends one line to the per-scope log, rotating when the file
// grows past its size or line ceiling. It never returns an error.
func (l *QueryLog) Record(scope string, f QueryFilters, resultCount int, duration time.Duration) {
	line := queryLogLine{
		Time:        time.Now().UTC(),
		Scope:       scope,
		Section:     string(f.Section),
		Subject:     f.Subject,
		ResultCount: resultCount,
		DurationMs:  duration.Milliseconds(),
	}
	if err := l.append(l.path(scope), line); err != nil {
		log.Warn("query log write failed", "err", err)
	}
}

func (l *QueryLog) append(path string, line queryLogLine) error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return err
	}
	l.rotateIfNeeded(path)

	raw, err := json.Marshal(line)
	if err != nil {
		return err
	}
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer fh.Close()
	_, err = fh.Write(append(raw, '\n'))
	return err
}

func (l *QueryLog) rotateIfNeeded(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	rotate := info.Size() > queryLogMaxBytes
	if !rotate && info.Size() > queryLogMaxBytes/8 {
		if n, err := countLines(path); err == nil && n >= queryLogMaxLines {
			rotate = true
		}
	}
	if rotate {
		if err := os.Rename(path, path+".1"); err != nil {
			log.Warn("query log rotation failed", "err", err)
		}
	}
}

func countLines(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return bytes.Count(raw, []byte{'\n'}), nil
}

// AnalyzeQueries derives query trends from the manager's query-pattern
// log.
func (m *Manager) AnalyzeQueries(scope string, dateRange DateRange) (*QueryTrends, error) {
	return m.qlog.Analyze(scope, dateRange)
}

// Analyze aggregates the per-scope log (current plus one rotated
// generation) into query trends.
func (l *QueryLog) Analyze(scope string, dateRange DateRange) (*QueryTrends, error) {
	trends := &QueryTrends{FrequencyByDay: map[string]int{}}
	subjects := map[string]int{}
	scopes := map[string]int{}

	path := l.path(scope)
	for _, p := range []string{path + ".1", path} {
		if err := l.scanLog(p, dateRange, trends, subjects, scopes); err != nil {
			return nil, err
		}
	}

	trends.TopSubjects = topCounts(subjects)
	trends.TopScopes = topCounts(scopes)
	return trends, nil
}

func (l *QueryLog) scanLog(path string, dateRange DateRange, trends *QueryTrends, subjects, scopes map[string]int) error {
	fh, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open query log: %w", err)
	}
	defer fh.Close()

	sc := bufio.NewScanner(fh)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var line queryLogLine
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			log.Warn("skipping malformed query log line", "path", path, "err", err)
			continue
		}
		if !dateRange.contains(line.Time) {
			continue
		}
		trends.FrequencyByDay[line.Time.Format("2006-01-02")]++
		if line.Subject != "" {
			subjects[line.Subject]++
		}
		if line.Scope != "" {
			scopes[line.Scope]++
		}
	}
	return sc.Err()
}

func topCounts(counts map[string]int) []KeyCount {
	out := make([]KeyCount, 0, len(counts))
	for k, v := range counts {
		out = append(out, KeyCount{Key: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if len(out) > topCreatorCount {
		out = out[:topCreatorCount]
	}
	return out
}
