package orchestrator

import "time"

// Stats is the aggregate pipeline statistics surfaced by the CLI's stats
// command, supplementing the distilled spec from the original pipeline's
// get_stats (SPEC_FULL.md §12.1).
type Stats struct {
	UptimeSeconds   float64
	TotalRequests   int64
	MethodCounts    map[string]int64
	LLMCalls        int64
	AvgLLMSeconds   float64
	CacheL1HitRate  float64
	CacheL2HitRate  float64
}

// Stats snapshots the orchestrator's cumulative counters alongside the
// cache's.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()

	counts := make(map[string]int64, len(o.methodCounts))
	for m, c := range o.methodCounts {
		counts[string(m)] = c
	}

	avgLLM := 0.0
	if o.llmCalls > 0 {
		avgLLM = o.llmTimeTotal.Seconds() / float64(o.llmCalls)
	}

	cacheStats := o.cache.Stats()
	l1Rate := rate(cacheStats.L1Hits, cacheStats.L1Hits+cacheStats.L1Misses)
	l2Rate := rate(cacheStats.L2Hits, cacheStats.L2Hits+cacheStats.L2Misses)

	return Stats{
		UptimeSeconds:  time.Since(o.startedAt).Seconds(),
		TotalRequests:  o.totalReqs,
		MethodCounts:   counts,
		LLMCalls:       o.llmCalls,
		AvgLLMSeconds:  avgLLM,
		CacheL1HitRate: l1Rate,
		CacheL2HitRate: l2Rate,
	}
}

func rate(hits, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
