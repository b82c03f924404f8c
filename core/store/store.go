// Package store implements the append-only, day-partitioned record
// log that the runner writes to and check/report read back from.
package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/regatehq/regate/core/fsx"
	"github.com/regatehq/regate/core/rgerr"
)

// Record is one case execution, immutable once written.
type Record struct {
	RunID        string          `json:"run_id"`
	CaseID       string          `json:"case_id"`
	Severity     string          `json:"severity"`
	Timestamp    time.Time       `json:"timestamp"`
	Passed       bool            `json:"passed"`
	FailureType  string          `json:"failure_type,omitempty"`
	LatencyMs    float64         `json:"latency_ms"`
	Cost         float64         `json:"cost"`
	TokensTotal  int             `json:"tokens_total"`
	OutputText   string          `json:"output_text,omitempty"`
	OutputJSON   json.RawMessage `json:"output_json,omitempty"`
	AttemptIndex int             `json:"attempt_index"`
}

const filePerm = 0o644

// Append writes one record to the partition for its UTC date.
func Append(logDir string, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return rgerr.Wrap(err, rgerr.CategoryInternal, "record_marshal_failed", "", false)
	}
	partition := partitionPath(logDir, rec.Timestamp)
	if err := fsx.AppendLineLocked(partition, raw, filePerm); err != nil {
		return rgerr.Wrap(err, rgerr.CategoryIOWrite, "record_append_failed", "", false)
	}
	return nil
}

func partitionPath(logDir string, ts time.Time) string {
	return filepath.Join(logDir, ts.UTC().Format("20060102")+".jsonl")
}

// ReadRun scans every partition file in logDir and returns the
// records whose RunID matches runID. Record order is not guaranteed.
func ReadRun(logDir string, runID string) ([]Record, error) {
	all, err := readAllPartitions(logDir)
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, r := range all {
		if r.RunID == runID {
			out = append(out, r)
		}
	}
	return out, nil
}

// ReadWindow returns every record with a timestamp in [start, end).
func ReadWindow(logDir string, start, end time.Time) ([]Record, error) {
	all, err := readAllPartitions(logDir)
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, r := range all {
		if !r.Timestamp.Before(start) && r.Timestamp.Before(end) {
			out = append(out, r)
		}
	}
	return out, nil
}

// ReadLatestRun groups every record in logDir by RunID and returns the
// records belonging to the run whose most recent record has the
// largest timestamp. Returns an empty slice and empty run id when
// logDir has no records.
func ReadLatestRun(logDir string) ([]Record, string, error) {
	all, err := readAllPartitions(logDir)
	if err != nil {
		return nil, "", err
	}
	if len(all) == 0 {
		return nil, "", nil
	}

	byRun := make(map[string][]Record)
	latest := make(map[string]time.Time)
	for _, r := range all {
		byRun[r.RunID] = append(byRun[r.RunID], r)
		if r.Timestamp.After(latest[r.RunID]) {
			latest[r.RunID] = r.Timestamp
		}
	}

	var bestRun string
	var bestTime time.Time
	for runID, ts := range latest {
		if bestRun == "" || ts.After(bestTime) {
			bestRun = runID
			bestTime = ts
		}
	}
	return byRun[bestRun], bestRun, nil
}

func readAllPartitions(logDir string) ([]Record, error) {
	entries, err := os.ReadDir(logDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, rgerr.Wrap(err, rgerr.CategoryIORead, "store_list_partitions_failed", "", false)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var all []Record
	for _, name := range names {
		// #nosec G304 -- name is filtered to .jsonl entries of the caller-provided log directory.
		data, err := os.ReadFile(filepath.Join(logDir, name))
		if err != nil {
			return nil, rgerr.Wrap(err, rgerr.CategoryIORead, "store_read_partition_failed", "", false)
		}
		records, err := decodeRecords(data)
		if err != nil {
			return nil, rgerr.Wrap(fmt.Errorf("%s: %w", name, err), rgerr.CategoryParse, "store_partition_corrupt", "", false)
		}
		all = append(all, records...)
	}
	return all, nil
}

// decodeRecords parses newline-delimited Records, tolerating exactly
// one trailing truncated line (a crash mid-append). A parse failure
// on any line that is followed by further lines is treated as real
// corruption and returned as an error.
func decodeRecords(data []byte) ([]Record, error) {
	if len(data) == 0 {
		return nil, nil
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	var records []Record
	var pending []byte
	pendingLine := 0
	line := 0
	for scanner.Scan() {
		line++
		if pending != nil {
			return nil, fmt.Errorf("line %d: invalid record json, and not the final line of the partition", pendingLine)
		}
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			pending = append([]byte(nil), raw...)
			pendingLine = line
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan partition: %w", err)
	}
	return records, nil
}
