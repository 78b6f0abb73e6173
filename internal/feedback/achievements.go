package feedback

import "sync"

// Category groups achievements for display.
type Category string

const (
	CategoryVocabulary Category = "vocabulary"
	CategoryFocus      Category = "focus"
	CategoryReading    Category = "reading"
	CategorySession    Category = "session"
)

// Achievement is one trackable goal. Current never decreases and Unlocked
// never reverts once set. Timestamps are session-relative nanoseconds.
type Achievement struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Category        Category `json:"category"`
	Target          float64  `json:"target_value"`
	Current         float64  `json:"current_value"`
	Unlocked        bool     `json:"unlocked"`
	UnlockedAtNanos int64    `json:"unlocked_at,omitempty"`
	Icon            string   `json:"icon"`
	Points          int      `json:"points"`
}

// Progress returns completion as a percentage in [0,100].
func (a Achievement) Progress() float64 {
	if a.Target <= 0 {
		if a.Unlocked {
			return 100
		}
		return 0
	}
	p := a.Current / a.Target * 100
	if p > 100 {
		p = 100
	}
	return p
}

// Unlock records a single unlock for notification streams.
type Unlock struct {
	AchievementID string `json:"achievement_id"`
	Title         string `json:"title"`
	Points        int    `json:"points"`
	AtNanos       int64  `json:"unlocked_at"`
}

// Catalog returns the standard achievement set. Vocabulary points scale
// with the word target, focus points with the duration target.
func Catalog() []Achievement {
	return []Achievement{
		{ID: "first_word", Title: "First Discovery", Description: "Discover your first vocabulary word", Category: CategoryVocabulary, Target: 1, Icon: "📚", Points: 5},
		{ID: "vocab_explorer", Title: "Word Explorer", Description: "Discover 5 vocabulary words", Category: CategoryVocabulary, Target: 5, Icon: "🔍", Points: 25},
		{ID: "vocab_master", Title: "Vocabulary Master", Description: "Discover 10 vocabulary words", Category: CategoryVocabulary, Target: 10, Icon: "🎓", Points: 50},
		{ID: "vocab_genius", Title: "Word Genius", Description: "Discover 20 vocabulary words", Category: CategoryVocabulary, Target: 20, Icon: "🧠", Points: 100},
		{ID: "focused_reader", Title: "Focused Reader", Description: "Maintain focus for 2 minutes", Category: CategoryFocus, Target: 120, Icon: "🎯", Points: 12},
		{ID: "deep_focus", Title: "Deep Focus", Description: "Maintain focus for 5 minutes", Category: CategoryFocus, Target: 300, Icon: "🧘", Points: 30},
		{ID: "laser_focus", Title: "Laser Focus", Description: "Maintain focus for 10 minutes", Category: CategoryFocus, Target: 600, Icon: "⚡", Points: 60},
		{ID: "speed_reader", Title: "Speed Reader", Description: "Read 100 words per minute", Category: CategoryReading, Target: 100, Icon: "💨", Points: 25},
		{ID: "comprehension_king", Title: "Comprehension King", Description: "Complete reading with 90% accuracy", Category: CategoryReading, Target: 90, Icon: "👑", Points: 25},
		{ID: "session_complete", Title: "Session Complete", Description: "Complete a full reading session", Category: CategorySession, Target: 1, Icon: "✅", Points: 25},
	}
}

// Tracker holds the authoritative achievement state for one session. The
// backend owns unlock decisions; clients only display them.
type Tracker struct {
	mu      sync.Mutex
	order   []string
	byID    map[string]*Achievement
	unlocks []Unlock
}

// NewTracker seeds a tracker with the standard catalog.
func NewTracker() *Tracker {
	t := &Tracker{byID: make(map[string]*Achievement)}
	for _, a := range Catalog() {
		a := a
		t.order = append(t.order, a.ID)
		t.byID[a.ID] = &a
	}
	return t
}

// OnVocabularyCount advances vocabulary achievements to the given discovery
// count and returns any unlocks this call produced.
func (t *Tracker) OnVocabularyCount(count int, atNanos int64) []Unlock {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.advanceCategory(CategoryVocabulary, float64(count), atNanos)
}

// OnFocusSeconds advances focus achievements to the given sustained-reading
// duration in seconds.
func (t *Tracker) OnFocusSeconds(seconds float64, atNanos int64) []Unlock {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.advanceCategory(CategoryFocus, seconds, atNanos)
}

// OnReadingProgress advances the reading-speed achievement and, once
// completion reaches 90%, the completion ones.
func (t *Tracker) OnReadingProgress(wordsPerMinute, completionPct float64, atNanos int64) []Unlock {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Unlock
	out = append(out, t.advance("speed_reader", wordsPerMinute, atNanos)...)
	out = append(out, t.advance("comprehension_king", completionPct, atNanos)...)
	if completionPct >= 90 {
		out = append(out, t.advance("session_complete", 1, atNanos)...)
	}
	return out
}

// OnSessionStop advances the completion achievements when a session ends
// normally. Mean sample confidence stands in for comprehension accuracy.
func (t *Tracker) OnSessionStop(meanConfidence float64, atNanos int64) []Unlock {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Unlock
	out = append(out, t.advance("session_complete", 1, atNanos)...)
	out = append(out, t.advance("comprehension_king", meanConfidence*100, atNanos)...)
	return out
}

func (t *Tracker) advanceCategory(cat Category, value float64, atNanos int64) []Unlock {
	var out []Unlock
	for _, id := range t.order {
		if t.byID[id].Category == cat {
			out = append(out, t.advance(id, value, atNanos)...)
		}
	}
	return out
}

// advance raises Current (never lowers it) and unlocks at most once.
func (t *Tracker) advance(id string, value float64, atNanos int64) []Unlock {
	a, ok := t.byID[id]
	if !ok {
		return nil
	}
	if value > a.Current {
		a.Current = value
	}
	if a.Unlocked || a.Current < a.Target {
		return nil
	}
	a.Unlocked = true
	a.UnlockedAtNanos = atNanos
	u := Unlock{AchievementID: a.ID, Title: a.Title, Points: a.Points, AtNanos: atNanos}
	t.unlocks = append(t.unlocks, u)
	return []Unlock{u}
}

// Snapshot returns all achievements in catalog order with current progress.
func (t *Tracker) Snapshot() []Achievement {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Achievement, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.byID[id])
	}
	return out
}

// RecentUnlocks returns up to limit of the most recent unlocks, oldest
// first. The backing list is bounded by the catalog size because each
// achievement unlocks at most once.
func (t *Tracker) RecentUnlocks(limit int) []Unlock {
	t.mu.Lock()
	defer t.mu.Unlock()
	if limit <= 0 || limit > len(t.unlocks) {
		limit = len(t.unlocks)
	}
	out := make([]Unlock, limit)
	copy(out, t.unlocks[len(t.unlocks)-limit:])
	return out
}

// UnlockedCount reports how many achievements have been unlocked.
func (t *Tracker) UnlockedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, a := range t.byID {
		if a.Unlocked {
			n++
		}
	}
	return n
}

// TotalPoints sums the points of all unlocked achievements.
func (t *Tracker) TotalPoints() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	pts := 0
	for _, a := range t.byID {
		if a.Unlocked {
			pts += a.Points
		}
	}
	return pts
}
