// Package agentrun executes a case suite against an injected agent
// invoker, classifies each outcome, and hands the resulting Records
// to the store.
package agentrun

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/regatehq/regate/core/casefile"
	"github.com/regatehq/regate/core/schema/validate"
	"github.com/regatehq/regate/core/store"
)

// Outcome is what an Invoker returns for a single case attempt.
type Outcome struct {
	Text        string
	JSON        json.RawMessage
	TokensTotal int
	Cost        float64
	LatencyMs   float64
	ErrorType   string
}

// Invoker is the injected capability the runner never looks inside
// of: it knows nothing about how a case is actually answered.
type Invoker interface {
	Invoke(ctx context.Context, c casefile.Case) (Outcome, error)
}

// Options configure one run invocation.
type Options struct {
	Cases       []casefile.Case
	Invoker     Invoker
	RunID       string
	RepeatN     int
	Concurrency int
	Timeout     time.Duration
	LogDir      string

	// OnItem, if set, is called once per completed work item after
	// its store append attempt, for verbose per-case progress
	// reporting. It runs concurrently from worker goroutines.
	OnItem func(store.Record)
}

// Report summarizes a completed run for the run verb's stdout output.
type Report struct {
	RunID      string
	Total      int
	Passed     int
	Failed     int
	WriteFails int
}

// AllPassed reports whether every work item passed outright.
func (r Report) AllPassed() bool {
	return r.Failed == 0
}

type workItem struct {
	attempt int
	c       casefile.Case
}

// Run expands Cases × RepeatN into work items, dispatches up to
// Concurrency of them at a time (each under a hard per-item
// deadline), classifies the outcome, and appends a Record to LogDir
// for each. A record-write failure is counted in the returned
// Report's WriteFails (and the item as failed) and passed to
// onWriteFail; it never aborts the run.
func Run(ctx context.Context, opts Options, onWriteFail func(error)) (Report, error) {
	if opts.RepeatN <= 0 {
		opts.RepeatN = 1
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Invoker == nil {
		return Report{}, fmt.Errorf("agentrun: no invoker configured")
	}

	items := make([]workItem, 0, len(opts.Cases)*opts.RepeatN)
	for attempt := 0; attempt < opts.RepeatN; attempt++ {
		for _, c := range opts.Cases {
			items = append(items, workItem{attempt: attempt, c: c})
		}
	}

	schemas := newSchemaCache()

	var (
		mu         sync.Mutex
		passed     int
		failed     int
		writeFails int
	)

	sem := make(chan struct{}, opts.Concurrency)
	var wg sync.WaitGroup
	for _, item := range items {
		item := item
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			rec := execute(ctx, opts, item, schemas)

			mu.Lock()
			if rec.Passed {
				passed++
			} else {
				failed++
			}
			mu.Unlock()

			if err := store.Append(opts.LogDir, rec); err != nil {
				mu.Lock()
				writeFails++
				if rec.Passed {
					passed--
					failed++
				}
				mu.Unlock()
				if onWriteFail != nil {
					onWriteFail(err)
				}
			}

			if opts.OnItem != nil {
				opts.OnItem(rec)
			}
		}()
	}
	wg.Wait()

	return Report{
		RunID:      opts.RunID,
		Total:      len(items),
		Passed:     passed,
		Failed:     failed,
		WriteFails: writeFails,
	}, nil
}

func execute(ctx context.Context, opts Options, item workItem, schemas *schemaCache) store.Record {
	itemCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		itemCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	now := time.Now().UTC()
	outcome, err := opts.Invoker.Invoke(itemCtx, item.c)

	rec := store.Record{
		RunID:        opts.RunID,
		CaseID:       item.c.CaseID,
		Severity:     string(item.c.Severity),
		Timestamp:    now,
		AttemptIndex: item.attempt,
	}

	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded):
		rec.FailureType = "timeout"
	case err != nil:
		rec.FailureType = "provider_error"
	case outcome.ErrorType != "":
		rec.FailureType = "provider_error"
	default:
		rec.FailureType = classify(item.c, outcome, schemas)
	}

	rec.Passed = rec.FailureType == ""
	rec.LatencyMs = outcome.LatencyMs
	rec.Cost = outcome.Cost
	rec.TokensTotal = outcome.TokensTotal
	rec.OutputText = outcome.Text
	if len(outcome.JSON) > 0 {
		rec.OutputJSON = outcome.JSON
	}
	return rec
}

// classify returns "" (pass) or one of bad_json/schema_mismatch/quality_fail.
func classify(c casefile.Case, outcome Outcome, schemas *schemaCache) string {
	schema, isSchema := schemas.get(c)
	if isSchema {
		if len(outcome.JSON) == 0 {
			var probe json.RawMessage
			if err := json.Unmarshal([]byte(outcome.Text), &probe); err != nil {
				return "bad_json"
			}
			outcome.JSON = probe
		}
		if schema == nil {
			return "bad_json"
		}
		if err := validate.Validate(schema, outcome.JSON); err != nil {
			return "schema_mismatch"
		}
		return ""
	}

	if c.ExpectedOutput != "" && outcome.Text != c.ExpectedOutput {
		return "quality_fail"
	}
	return ""
}
