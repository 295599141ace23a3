package observability

import (
	"maps"
	"math"
	"slices"
	"strings"
	"sync"
	"time"
)

// Chat turn stages recorded in the rolling latency window.
const (
	StageClassify  = "classify"
	StageGenerate  = "generate"
	StagePersist   = "persist"
	StageChatTotal = "chat_total"
)

type StageStats struct {
	Stage   string  `json:"stage"`
	Samples int     `json:"samples"`
	LastMS  float64 `json:"last_ms"`
	AvgMS   float64 `json:"avg_ms"`
	P50MS   float64 `json:"p50_ms"`
	P95MS   float64 `json:"p95_ms"`
	MaxMS   float64 `json:"max_ms"`
}

// Indicator counts degraded turns, e.g. fallback_emotion or store_error_append.
type Indicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type StageSnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Stages      []StageStats `json:"stages"`
	Indicators  []Indicator  `json:"indicators,omitempty"`
}

// latencyWindow keeps the last size durations per chat stage for
// /v1/perf/latency. Prometheus histograms carry the long-run view.
type latencyWindow struct {
	mu         sync.Mutex
	size       int
	rings      map[string]*ring
	indicators map[string]int
}

type ring struct {
	buf  []time.Duration
	pos  int
	n    int
	last time.Duration
}

func (r *ring) add(d time.Duration) {
	r.buf[r.pos] = d
	r.pos = (r.pos + 1) % len(r.buf)
	r.n = min(r.n+1, len(r.buf))
	r.last = d
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = 256
	}
	return &latencyWindow{
		size:       size,
		rings:      make(map[string]*ring),
		indicators: make(map[string]int),
	}
}

func (w *latencyWindow) record(stage string, d time.Duration) {
	if stage == "" || d < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.rings[stage]
	if !ok {
		r = &ring{buf: make([]time.Duration, w.size)}
		w.rings[stage] = r
	}
	r.add(d)
}

func (w *latencyWindow) mark(indicator string) {
	indicator = strings.TrimSpace(indicator)
	if indicator == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.indicators[indicator]++
}

func (w *latencyWindow) snapshot() StageSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := StageSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      make([]StageStats, 0, len(w.rings)),
	}
	for _, stage := range slices.Sorted(maps.Keys(w.rings)) {
		r := w.rings[stage]
		sorted := slices.Clone(r.buf[:r.n])
		slices.Sort(sorted)
		var total time.Duration
		for _, d := range sorted {
			total += d
		}
		snap.Stages = append(snap.Stages, StageStats{
			Stage:   stage,
			Samples: r.n,
			LastMS:  millis(r.last),
			AvgMS:   millis(total / time.Duration(r.n)),
			P50MS:   millis(Percentile(sorted, 0.50)),
			P95MS:   millis(Percentile(sorted, 0.95)),
			MaxMS:   millis(sorted[len(sorted)-1]),
		})
	}
	for _, name := range slices.Sorted(maps.Keys(w.indicators)) {
		snap.Indicators = append(snap.Indicators, Indicator{Name: name, Count: w.indicators[name]})
	}
	return snap
}

// Percentile returns the nearest-rank q-quantile of an ascending slice.
func Percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(q*float64(len(sorted)))) - 1
	return sorted[max(0, min(rank, len(sorted)-1))]
}

func millis(d time.Duration) float64 {
	return math.Round(float64(d.Microseconds())/10) / 100
}
