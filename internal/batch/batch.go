// Package batch implements the batch scheduler (§4.8): group by label,
// serialise within a label so pattern learning from item k is available to
// item k+1, parallelise across labels bounded by a concurrency ceiling,
// and stream per-item results as they complete.
package batch

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/adverant/pdfextract/internal/model"
	"github.com/adverant/pdfextract/internal/orchestrator"
)

// Item is one input to a batch run, carrying its original position so
// callers can correlate result events back to their source.
type Item struct {
	FileIndex int
	PDFBytes  []byte
	Label     string
	Schema    model.Schema
}

// EventType tags a Scheduler event.
type EventType string

const (
	EventResult   EventType = "result"
	EventComplete EventType = "complete"
)

// Event is either a per-item result or the terminating aggregate.
type Event struct {
	Type     EventType
	Result   *ItemResult
	Complete *CompleteStats
}

// ItemResult carries one item's outcome, tagged with its original index.
type ItemResult struct {
	FileIndex int
	Label     string
	Result    *model.ExtractionResult
}

// CompleteStats is the terminating event's aggregate statistics.
type CompleteStats struct {
	Total                  int
	Successful             int
	Failed                 int
	ProcessingTimeSeconds  float64
	MethodCounts           map[string]int64
	Labels                 []string
	Cancelled              bool
}

// Scheduler drives many extraction requests with per-label serialisation
// and cross-label parallelism.
type Scheduler struct {
	orch       *orchestrator.Orchestrator
	maxWorkers int
}

func New(orch *orchestrator.Orchestrator, maxWorkers int) *Scheduler {
	if maxWorkers <= 0 {
		maxWorkers = runtime.NumCPU()
	}
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Scheduler{orch: orch, maxWorkers: maxWorkers}
}

// Run groups items by label and streams one EventResult per item (in
// completion order) followed by a single terminating EventComplete. The
// returned channel is closed after the complete event is sent.
//
// Cancelling ctx stops new items from starting; items already in flight
// are allowed to finish, and complete still fires with partial counts.
func (s *Scheduler) Run(ctx context.Context, items []Item) <-chan Event {
	out := make(chan Event, len(items)+1)

	groups := groupByLabel(items)
	sem := make(chan struct{}, s.maxWorkers)

	var (
		mu            sync.Mutex
		total         = len(items)
		successful    int
		failed        int
		methodCounts  = map[string]int64{}
		labelsTouched = make(map[string]struct{}, len(groups))
	)

	start := time.Now()
	var wg sync.WaitGroup

	for label, group := range groups {
		label, group := label, group
		wg.Add(1)
		go func() {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			mu.Lock()
			labelsTouched[label] = struct{}{}
			mu.Unlock()

			for _, item := range group {
				select {
				case <-ctx.Done():
					return // no new items started once cancelled
				default:
				}

				res, err := s.orch.Extract(ctx, model.ExtractionRequest{
					PDFBytes: item.PDFBytes,
					Label:    item.Label,
					Schema:   item.Schema,
				})
				if err != nil {
					// Extract itself only returns a Go error for
					// conditions outside the request/response model
					// (e.g. a cancelled context before any work began);
					// represent it as a failed item rather than killing
					// the worker (§4.8: a worker must not die on a
					// per-item failure).
					res = &model.ExtractionResult{
						Success: false,
						Data:    map[string]interface{}{},
						Error:   err.Error(),
						Metadata: model.Metadata{Method: model.MethodError},
					}
				}

				mu.Lock()
				if res.Success {
					successful++
				} else {
					failed++
				}
				methodCounts[string(res.Metadata.Method)]++
				mu.Unlock()

				out <- Event{
					Type: EventResult,
					Result: &ItemResult{
						FileIndex: item.FileIndex,
						Label:     item.Label,
						Result:    res,
					},
				}
			}
		}()
	}

	go func() {
		wg.Wait()

		labels := make([]string, 0, len(labelsTouched))
		for l := range labelsTouched {
			labels = append(labels, l)
		}

		mu.Lock()
		stats := CompleteStats{
			Total:                 total,
			Successful:            successful,
			Failed:                failed,
			ProcessingTimeSeconds: time.Since(start).Seconds(),
			MethodCounts:          methodCounts,
			Labels:                labels,
			Cancelled:             ctx.Err() != nil,
		}
		mu.Unlock()

		out <- Event{Type: EventComplete, Complete: &stats}
		close(out)
	}()

	return out
}

// groupByLabel partitions items by label, preserving each label's original
// relative order.
func groupByLabel(items []Item) map[string][]Item {
	groups := make(map[string][]Item)
	for _, it := range items {
		groups[it.Label] = append(groups[it.Label], it)
	}
	return groups
}
