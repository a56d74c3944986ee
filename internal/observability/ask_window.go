package observability

import (
	"math"
	"sort"
	"sync"
	"time"
)

// AskTrace is what one ask pipeline run reports to the latency window.
// Zero durations mean the stage did not run.
type AskTrace struct {
	Strategy        string
	Outcome         string
	HistoryEntries  int
	HistoryDegraded bool
	PersistAction   string
	PersistFailed   bool
	History         time.Duration
	Completion      time.Duration
	Persist         time.Duration
	Total           time.Duration
}

// StageStats summarizes one stage over the window. History is keyed per
// strategy ("history:lexical") since the strategies differ by orders of
// magnitude.
type StageStats struct {
	Stage   string  `json:"stage"`
	Samples int     `json:"samples"`
	P50MS   float64 `json:"p50_ms"`
	P95MS   float64 `json:"p95_ms"`
	MaxMS   float64 `json:"max_ms"`
}

type HistorySizeStats struct {
	Avg   float64 `json:"avg"`
	Max   int     `json:"max"`
	Empty int     `json:"empty"`
}

type AskSnapshot struct {
	GeneratedAt    time.Time        `json:"generated_at"`
	WindowSize     int              `json:"window_size"`
	Asks           int              `json:"asks"`
	Stages         []StageStats     `json:"stages"`
	HistoryEntries HistorySizeStats `json:"history_entries"`
	Outcomes       map[string]int   `json:"outcomes"`
	PersistActions map[string]int   `json:"persist_actions"`
	Degraded       int              `json:"history_degraded"`
	PersistFailed  int              `json:"persist_failed"`
}

// askWindow keeps the last size traces. Aggregation happens on Snapshot.
type askWindow struct {
	mu     sync.Mutex
	traces []AskTrace
	next   int
	full   bool
}

func newAskWindow(size int) *askWindow {
	if size <= 0 {
		size = 256
	}
	return &askWindow{traces: make([]AskTrace, size)}
}

func (w *askWindow) Add(t AskTrace) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.traces[w.next] = t
	w.next = (w.next + 1) % len(w.traces)
	if w.next == 0 {
		w.full = true
	}
}

func (w *askWindow) recent() []AskTrace {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := w.next
	if w.full {
		n = len(w.traces)
	}
	out := make([]AskTrace, n)
	copy(out, w.traces[:n])
	return out
}

func (w *askWindow) Snapshot() AskSnapshot {
	traces := w.recent()
	snap := AskSnapshot{
		GeneratedAt:    time.Now().UTC(),
		WindowSize:     len(w.traces),
		Asks:           len(traces),
		Stages:         []StageStats{},
		Outcomes:       map[string]int{},
		PersistActions: map[string]int{},
	}

	byStage := map[string][]time.Duration{}
	add := func(stage string, d time.Duration) {
		if d > 0 {
			byStage[stage] = append(byStage[stage], d)
		}
	}
	entries := 0
	for _, t := range traces {
		add(StageHistory+":"+t.Strategy, t.History)
		add(StageCompletion, t.Completion)
		add(StagePersist, t.Persist)
		add(StageAskTotal, t.Total)

		entries += t.HistoryEntries
		if t.HistoryEntries > snap.HistoryEntries.Max {
			snap.HistoryEntries.Max = t.HistoryEntries
		}
		if t.HistoryEntries == 0 {
			snap.HistoryEntries.Empty++
		}
		if t.Outcome != "" {
			snap.Outcomes[t.Outcome]++
		}
		if t.PersistAction != "" {
			snap.PersistActions[t.PersistAction]++
		}
		if t.HistoryDegraded {
			snap.Degraded++
		}
		if t.PersistFailed {
			snap.PersistFailed++
		}
	}
	if len(traces) > 0 {
		snap.HistoryEntries.Avg = float64(entries) / float64(len(traces))
	}

	for stage, ds := range byStage {
		sort.Slice(ds, func(i, j int) bool { return ds[i] < ds[j] })
		snap.Stages = append(snap.Stages, StageStats{
			Stage:   stage,
			Samples: len(ds),
			P50MS:   millis(nearestRank(ds, 0.50)),
			P95MS:   millis(nearestRank(ds, 0.95)),
			MaxMS:   millis(ds[len(ds)-1]),
		})
	}
	sort.Slice(snap.Stages, func(i, j int) bool { return snap.Stages[i].Stage < snap.Stages[j].Stage })
	return snap
}

// nearestRank expects sorted to be non-empty and ascending.
func nearestRank(sorted []time.Duration, q float64) time.Duration {
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
