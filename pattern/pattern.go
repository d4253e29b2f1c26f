package pattern

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"go.uber.org/zap"
)

// Entry is one caller-scored record. The payload is opaque; the store has no
// opinion on what a category or payload means.
type Entry struct {
	Payload    string    `json:"payload"`
	Score      float64   `json:"score"`
	RecordedAt time.Time `json:"recorded_at"`
}

// DecayKind selects how an entry's score fades with age at read time.
type DecayKind string

const (
	// DecayExponential halves the score every HalfLife.
	DecayExponential DecayKind = "exponential"

	// DecayLinear fades the score to zero over Window.
	DecayLinear DecayKind = "linear"

	// DecayNone ranks by raw score only.
	DecayNone DecayKind = "none"
)

// Config tunes capacity and decay.
type Config struct {
	// Entries kept per category. The lowest-ranked entry is evicted when a
	// category grows past this.
	Capacity int

	Decay DecayKind

	// Half-life for exponential decay.
	HalfLife time.Duration

	// Fade-out window for linear decay.
	Window time.Duration
}

// DefaultConfig keeps the top 20 per category with a 7-day half-life.
func DefaultConfig() Config {
	return Config{
		Capacity: 20,
		Decay:    DecayExponential,
		HalfLife: 7 * 24 * time.Hour,
	}
}

type category struct {
	mu      sync.Mutex
	entries []Entry
}

// Store is a generic ranked-retrieval structure. Callers append scored
// entries and read them back ordered by score with recency decay applied.
type Store struct {
	mu         sync.RWMutex
	categories map[string]*category

	cfg    Config
	clock  clock.Clock
	logger *zap.SugaredLogger
}

func NewStore(cfg Config, logger *zap.SugaredLogger) *Store {
	return newStoreWithClock(cfg, logger, clock.New())
}

func newStoreWithClock(cfg Config, logger *zap.SugaredLogger, clk clock.Clock) *Store {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultConfig().Capacity
	}
	return &Store{
		categories: make(map[string]*category),
		cfg:        cfg,
		clock:      clk,
		logger:     logger,
	}
}

// Record appends an entry to a category. When the category is over capacity
// the entry with the lowest decayed score is evicted.
func (s *Store) Record(name string, payload string, score float64) {
	c := s.category(name)
	now := s.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = append(c.entries, Entry{
		Payload:    payload,
		Score:      score,
		RecordedAt: now,
	})

	for len(c.entries) > s.cfg.Capacity {
		lowest := 0
		for i := 1; i < len(c.entries); i++ {
			if s.ranksBelow(c.entries[i], c.entries[lowest], now) {
				lowest = i
			}
		}
		c.entries = append(c.entries[:lowest], c.entries[lowest+1:]...)
	}
}

// TopK returns up to k entries ordered by score*decay(age) descending, ties
// broken by recency with newer first.
func (s *Store) TopK(name string, k int) []Entry {
	if k <= 0 {
		return nil
	}

	s.mu.RLock()
	c, ok := s.categories[name]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	now := s.clock.Now()

	c.mu.Lock()
	ranked := append([]Entry(nil), c.entries...)
	c.mu.Unlock()

	sort.SliceStable(ranked, func(i, j int) bool {
		return s.ranksBelow(ranked[j], ranked[i], now)
	})

	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}

// Categories lists category names in lexical order.
func (s *Store) Categories() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.categories))
	for name := range s.categories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Size returns the total number of entries across all categories.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, c := range s.categories {
		c.mu.Lock()
		total += len(c.entries)
		c.mu.Unlock()
	}
	return total
}

func (s *Store) category(name string) *category {
	s.mu.RLock()
	c, ok := s.categories[name]
	s.mu.RUnlock()
	if ok {
		return c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok = s.categories[name]; ok {
		return c
	}
	c = &category{}
	s.categories[name] = c
	return c
}

// ranksBelow reports whether a ranks strictly below b: lower decayed score,
// or equal score and older.
func (s *Store) ranksBelow(a, b Entry, now time.Time) bool {
	ea, eb := s.effective(a, now), s.effective(b, now)
	if ea != eb {
		return ea < eb
	}
	return a.RecordedAt.Before(b.RecordedAt)
}

func (s *Store) effective(e Entry, now time.Time) float64 {
	age := now.Sub(e.RecordedAt)
	if age < 0 {
		age = 0
	}
	switch s.cfg.Decay {
	case DecayExponential:
		if s.cfg.HalfLife <= 0 {
			return e.Score
		}
		return e.Score * math.Pow(0.5, float64(age)/float64(s.cfg.HalfLife))
	case DecayLinear:
		if s.cfg.Window <= 0 {
			return e.Score
		}
		remaining := 1 - float64(age)/float64(s.cfg.Window)
		if remaining < 0 {
			remaining = 0
		}
		return e.Score * remaining
	default:
		return e.Score
	}
}

// Snapshot captures every category's entries for persistence.
func (s *Store) Snapshot() map[string][]Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := make(map[string][]Entry, len(s.categories))
	for name, c := range s.categories {
		c.mu.Lock()
		state[name] = append([]Entry(nil), c.entries...)
		c.mu.Unlock()
	}
	return state
}

// Restore replaces the store contents with persisted entries, trimming any
// category that exceeds the configured capacity.
func (s *Store) Restore(state map[string][]Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.categories = make(map[string]*category, len(state))
	for name, entries := range state {
		kept := append([]Entry(nil), entries...)
		sort.SliceStable(kept, func(i, j int) bool {
			return s.ranksBelow(kept[j], kept[i], now)
		})
		if len(kept) > s.cfg.Capacity {
			kept = kept[:s.cfg.Capacity]
		}
		s.categories[name] = &category{entries: kept}
	}
}
