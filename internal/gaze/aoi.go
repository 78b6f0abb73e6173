package gaze

import (
	"sort"
	"sync"
)

// AOIIndex holds the AOIs of one session keyed by id and answers
// point-in-rectangle queries. Mutations are serialized against lookups with
// a single-writer/many-readers lock; AOIs are never mutated in place, a
// duplicate Add replaces the earlier entry.
type AOIIndex struct {
	mu    sync.RWMutex
	aois  map[string]*indexedAOI
	nextI int64
}

type indexedAOI struct {
	AOI
	insertSeq int64 // tie-break: most recent insertion wins
}

// NewAOIIndex returns an empty index.
func NewAOIIndex() *AOIIndex {
	return &AOIIndex{aois: make(map[string]*indexedAOI)}
}

// Add inserts an AOI. Adding an existing id replaces the earlier AOI and
// refreshes its insertion order.
func (idx *AOIIndex) Add(a AOI) {
	if a.Kind == "" {
		a.Kind = AOICustom
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.nextI++
	idx.aois[a.ID] = &indexedAOI{AOI: a, insertSeq: idx.nextI}
}

// Remove deletes an AOI by id. Removing an unknown id is a no-op.
func (idx *AOIIndex) Remove(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.aois, id)
}

// Get returns the AOI with the given id.
func (idx *AOIIndex) Get(id string) (AOI, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	a, ok := idx.aois[id]
	if !ok {
		return AOI{}, false
	}
	return a.AOI, true
}

// Len returns the number of AOIs in the index.
func (idx *AOIIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.aois)
}

// List returns all AOIs ordered by kind tier, then priority, then most
// recent insertion — the same ordering FindHit resolves with.
func (idx *AOIIndex) List() []AOI {
	idx.mu.RLock()
	all := make([]*indexedAOI, 0, len(idx.aois))
	for _, a := range idx.aois {
		all = append(all, a)
	}
	idx.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return lessAOI(all[i], all[j]) })
	out := make([]AOI, len(all))
	for i, a := range all {
		out[i] = a.AOI
	}
	return out
}

// Vocabulary returns the vocab-kind AOIs in lookup order.
func (idx *AOIIndex) Vocabulary() []AOI {
	var out []AOI
	for _, a := range idx.List() {
		if a.Kind == AOIVocab {
			out = append(out, a)
		}
	}
	return out
}

// FindHit returns the AOI containing (x, y), if any. Vocabulary AOIs are
// checked before content and custom; within a tier higher priority wins and
// ties go to the most recently inserted AOI.
func (idx *AOIIndex) FindHit(x, y float64) (AOI, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var best *indexedAOI
	for _, a := range idx.aois {
		if !a.Contains(x, y) {
			continue
		}
		if best == nil || lessAOI(a, best) {
			best = a
		}
	}
	if best == nil {
		return AOI{}, false
	}
	return best.AOI, true
}

// lessAOI orders a before b when a wins the hit-resolution contest.
func lessAOI(a, b *indexedAOI) bool {
	at, bt := kindTier(a.Kind), kindTier(b.Kind)
	if at != bt {
		return at < bt
	}
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.insertSeq > b.insertSeq
}

func kindTier(k AOIKind) int {
	switch k {
	case AOIVocab:
		return 0
	case AOIContent:
		return 1
	default:
		return 2
	}
}
