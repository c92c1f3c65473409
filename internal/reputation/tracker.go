// Package reputation maintains per-worker performance scores. Five
// independently tracked dimensions move by exponential moving average; a
// weighted composite summarizes them and feeds both trend detection and the
// threshold ladder that triggers evolution.
package reputation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/aristath/fleet/internal/lockfile"
)

// Score dimensions.
const (
	DimTaskCompletion  = "task_completion"
	DimOutputQuality   = "output_quality"
	DimImprovementRate = "improvement_rate"
	DimConsistency     = "consistency"
	DimReviewAccuracy  = "review_accuracy"
)

// weights sum to 1.0; the composite is the weighted sum of all dimensions.
var weights = map[string]float64{
	DimTaskCompletion:  0.25,
	DimOutputQuality:   0.30,
	DimImprovementRate: 0.25,
	DimConsistency:     0.10,
	DimReviewAccuracy:  0.10,
}

const (
	alpha      = 0.3  // EMA smoothing: new = alpha*signal + (1-alpha)*old
	baseline   = 70.0 // Neutral starting value for every dimension
	historyCap = 50   // Rolling composite history length
	trendSpan  = 10   // History points considered by Trend
	trendDelta = 3.0  // Half-mean difference that counts as movement
)

// Threshold ladder statuses.
type ThresholdStatus string

const (
	StatusHealthy ThresholdStatus = "healthy"
	StatusWatch   ThresholdStatus = "watch"
	StatusWarning ThresholdStatus = "warning"
	StatusEvolve  ThresholdStatus = "evolve"
)

// Trend classifications.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDeclining Trend = "declining"
	TrendStable    Trend = "stable"
)

// HistoryPoint is one archived composite sample.
type HistoryPoint struct {
	Composite float64   `json:"composite"`
	Timestamp time.Time `json:"timestamp"`
}

// Entry is one worker's scorecard. Entries are created lazily on first
// update and never deleted.
type Entry struct {
	Dimensions map[string]float64 `json:"dimensions"`
	Composite  float64            `json:"composite"`
	History    []HistoryPoint     `json:"history,omitempty"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

func newEntry() *Entry {
	dims := make(map[string]float64, len(weights))
	for dim := range weights {
		dims[dim] = baseline
	}
	e := &Entry{Dimensions: dims}
	e.Composite = composite(dims)
	return e
}

func composite(dims map[string]float64) float64 {
	var sum float64
	for dim, weight := range weights {
		sum += dims[dim] * weight
	}
	return sum
}

func cloneEntry(e *Entry) *Entry {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Dimensions = make(map[string]float64, len(e.Dimensions))
	for dim, v := range e.Dimensions {
		cp.Dimensions[dim] = v
	}
	cp.History = append([]HistoryPoint(nil), e.History...)
	return &cp
}

// Classify maps a composite score onto the threshold ladder.
func Classify(score float64) ThresholdStatus {
	switch {
	case score >= 80:
		return StatusHealthy
	case score >= 60:
		return StatusWatch
	case score >= 40:
		return StatusWarning
	default:
		return StatusEvolve
	}
}

// auditRecord is one line of the append-only update log.
type auditRecord struct {
	Agent     string    `json:"agent"`
	Dimension string    `json:"dimension"`
	Signal    float64   `json:"signal"`
	Value     float64   `json:"value"`
	Composite float64   `json:"composite"`
	Timestamp time.Time `json:"timestamp"`
}

// Tracker is the file-backed score aggregator. The cache document maps
// worker id to Entry; every update also lands in an audit log for replay.
type Tracker struct {
	path      string
	auditPath string
	lockWait  time.Duration
	now       func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(tr *Tracker) { tr.now = now }
}

// NewTracker creates a tracker backed by the JSON document at path. The
// audit log lives alongside it.
func NewTracker(path string, opts ...Option) *Tracker {
	tr := &Tracker{
		path:      path,
		auditPath: path + ".audit.jsonl",
		lockWait:  10 * time.Second,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(tr)
	}
	return tr
}

func (tr *Tracker) load() (map[string]*Entry, error) {
	data, err := os.ReadFile(tr.path)
	if os.IsNotExist(err) {
		return make(map[string]*Entry), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reputation: read cache: %w", err)
	}

	var cache map[string]*Entry
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, fmt.Errorf("reputation: parse cache: %w", err)
	}
	if cache == nil {
		cache = make(map[string]*Entry)
	}
	return cache, nil
}

func (tr *Tracker) save(cache map[string]*Entry) error {
	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return fmt.Errorf("reputation: marshal cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(tr.path), 0o755); err != nil {
		return fmt.Errorf("reputation: ensure dir: %w", err)
	}

	tmp := tr.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("reputation: write cache: %w", err)
	}
	if err := os.Rename(tmp, tr.path); err != nil {
		return fmt.Errorf("reputation: replace cache: %w", err)
	}
	return nil
}

func (tr *Tracker) appendAudit(rec auditRecord) {
	line, err := json.Marshal(rec)
	if err != nil {
		return
	}
	f, err := os.OpenFile(tr.auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.Write(append(line, '\n'))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Update feeds a signal in [0,100] into one dimension of the worker's entry,
// recomputes the composite, records a history point, and appends an audit
// line. Concurrent updates to the same worker serialize under the cache
// lock, last write wins.
func (tr *Tracker) Update(agentID, dimension string, signal float64) (*Entry, error) {
	if _, known := weights[dimension]; !known {
		return nil, fmt.Errorf("reputation: unknown dimension %q", dimension)
	}
	signal = clamp(signal, 0, 100)

	var out *Entry
	err := lockfile.WithLock(tr.path+".lock", tr.lockWait, func() error {
		cache, err := tr.load()
		if err != nil {
			return err
		}

		entry, exists := cache[agentID]
		if !exists {
			entry = newEntry()
			cache[agentID] = entry
		}

		now := tr.now()
		entry.Dimensions[dimension] = alpha*signal + (1-alpha)*entry.Dimensions[dimension]
		entry.Composite = composite(entry.Dimensions)
		entry.History = append(entry.History, HistoryPoint{Composite: entry.Composite, Timestamp: now})
		if len(entry.History) > historyCap {
			entry.History = entry.History[len(entry.History)-historyCap:]
		}
		entry.UpdatedAt = now

		if err := tr.save(cache); err != nil {
			return err
		}

		tr.appendAudit(auditRecord{
			Agent:     agentID,
			Dimension: dimension,
			Signal:    signal,
			Value:     entry.Dimensions[dimension],
			Composite: entry.Composite,
			Timestamp: now,
		})
		out = cloneEntry(entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns a copy of the worker's entry, or nil if it has never been
// scored.
func (tr *Tracker) Get(agentID string) (*Entry, error) {
	var out *Entry
	err := lockfile.WithLock(tr.path+".lock", tr.lockWait, func() error {
		cache, err := tr.load()
		if err != nil {
			return err
		}
		out = cloneEntry(cache[agentID])
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetAll returns a copy of every worker's entry.
func (tr *Tracker) GetAll() (map[string]*Entry, error) {
	out := make(map[string]*Entry)
	err := lockfile.WithLock(tr.path+".lock", tr.lockWait, func() error {
		cache, err := tr.load()
		if err != nil {
			return err
		}
		for id, entry := range cache {
			out[id] = cloneEntry(entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Agents returns scored worker ids in stable order.
func (tr *Tracker) Agents() ([]string, error) {
	all, err := tr.GetAll()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// TrendOf classifies the composite trajectory over the last samples: the
// mean of the newer half is compared against the mean of the older half.
func (tr *Tracker) TrendOf(agentID string) (Trend, error) {
	entry, err := tr.Get(agentID)
	if err != nil {
		return TrendStable, err
	}
	if entry == nil {
		return TrendStable, nil
	}
	return trendOf(entry.History), nil
}

func trendOf(history []HistoryPoint) Trend {
	if len(history) > trendSpan {
		history = history[len(history)-trendSpan:]
	}
	if len(history) < 2 {
		return TrendStable
	}

	half := len(history) / 2
	older := mean(history[:half])
	newer := mean(history[half:])

	switch diff := newer - older; {
	case diff > trendDelta:
		return TrendImproving
	case diff < -trendDelta:
		return TrendDeclining
	default:
		return TrendStable
	}
}

func mean(points []HistoryPoint) float64 {
	if len(points) == 0 {
		return 0
	}
	var sum float64
	for _, p := range points {
		sum += p.Composite
	}
	return sum / float64(len(points))
}

// ThresholdOf returns the threshold status for the worker's current
// composite. Unscored workers sit at the neutral baseline.
func (tr *Tracker) ThresholdOf(agentID string) (ThresholdStatus, error) {
	entry, err := tr.Get(agentID)
	if err != nil {
		return StatusHealthy, err
	}
	if entry == nil {
		return Classify(baseline), nil
	}
	return Classify(entry.Composite), nil
}
