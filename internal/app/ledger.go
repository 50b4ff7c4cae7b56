package app

import "sort"

// Ledger bounds. Once more than ledgerHighWater batch ids are resident,
// compaction keeps only the newest ledgerRetain.
const (
	ledgerHighWater = 100
	ledgerRetain    = 50
)

// ledger records the outcome of recent flushes by batch id. An id lives in
// at most one of results and errs. Not safe for concurrent use; the owning
// MicroBatcher guards it with its mutex.
type ledger[Out any] struct {
	results map[uint64][]Out
	errs    map[uint64]error
}

func newLedger[Out any]() *ledger[Out] {
	return &ledger[Out]{
		results: make(map[uint64][]Out),
		errs:    make(map[uint64]error),
	}
}

func (l *ledger[Out]) recordResults(id uint64, results []Out) {
	delete(l.errs, id)
	l.results[id] = results
}

func (l *ledger[Out]) recordError(id uint64, err error) {
	delete(l.results, id)
	l.errs[id] = err
}

func (l *ledger[Out]) size() int {
	return len(l.results) + len(l.errs)
}

// ids returns every resident batch id in ascending order.
func (l *ledger[Out]) ids() []uint64 {
	ids := make([]uint64, 0, l.size())
	for id := range l.results {
		ids = append(ids, id)
	}
	for id := range l.errs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// compact evicts everything but the newest ledgerRetain ids once the ledger
// holds more than ledgerHighWater. It returns the number of evicted ids.
func (l *ledger[Out]) compact() int {
	if l.size() <= ledgerHighWater {
		return 0
	}
	ids := l.ids()
	evict := ids[:len(ids)-ledgerRetain]
	for _, id := range evict {
		delete(l.results, id)
		delete(l.errs, id)
	}
	return len(evict)
}

// LedgerEntry is the recorded outcome of one batch id.
type LedgerEntry[Out any] struct {
	Results []Out
	Err     error
}

func (l *ledger[Out]) lookup(id uint64) (LedgerEntry[Out], bool) {
	if r, ok := l.results[id]; ok {
		return LedgerEntry[Out]{Results: r}, true
	}
	if err, ok := l.errs[id]; ok {
		return LedgerEntry[Out]{Err: err}, true
	}
	return LedgerEntry[Out]{}, false
}

func (l *ledger[Out]) reset() {
	l.results = make(map[uint64][]Out)
	l.errs = make(map[uint64]error)
}
