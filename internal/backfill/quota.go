package backfill

import (
	"sync"
	"time"
)

// DailyQuota caps how many artifacts the process generates per calendar day
// in its operating timezone. It is held in memory only.
type DailyQuota struct {
	mu    sync.Mutex
	limit int
	used  int
	day   string
	loc   *time.Location
	now   func() time.Time
}

// Grant is a reservation taken from the quota.
type Grant struct {
	N   int
	day string
}

// NewDailyQuota creates a quota of limit units per day in loc.
func NewDailyQuota(limit int, loc *time.Location) *DailyQuota {
	if loc == nil {
		loc = time.UTC
	}
	return &DailyQuota{limit: limit, loc: loc, now: time.Now}
}

// rollover resets the counter when the date changed. Caller holds mu.
func (q *DailyQuota) rollover() string {
	today := q.now().In(q.loc).Format(time.DateOnly)
	if today != q.day {
		q.day = today
		q.used = 0
	}
	return today
}

// Reserve grants up to n units atomically. A zero grant means the quota is exhausted.
func (q *DailyQuota) Reserve(n int) Grant {
	q.mu.Lock()
	defer q.mu.Unlock()

	day := q.rollover()
	free := q.limit - q.used
	if free < 0 {
		free = 0
	}
	if n > free {
		n = free
	}
	if n < 0 {
		n = 0
	}
	q.used += n
	return Grant{N: n, day: day}
}

// Release returns unused units of g. Units granted on an earlier day are dropped.
func (q *DailyQuota) Release(g Grant, unused int) {
	if unused <= 0 {
		return
	}
	if unused > g.N {
		unused = g.N
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.rollover() != g.day {
		return
	}
	q.used -= unused
	if q.used < 0 {
		q.used = 0
	}
}

// Remaining is the number of units still available today.
func (q *DailyQuota) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rollover()
	if r := q.limit - q.used; r > 0 {
		return r
	}
	return 0
}

// Used is the number of units consumed or reserved today.
func (q *DailyQuota) Used() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rollover()
	return q.used
}
