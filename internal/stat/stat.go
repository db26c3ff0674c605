package stat

import (
	"sync"
	"time"
)

type counter struct {
	base time.Time
	cnt  uint64
}

type time_event struct {
	list [10]time.Time
	idx  int
}

// Stat counts events in one-minute buckets and keeps the time of the last
// few events.
type Stat struct {
	mu      sync.Mutex
	total   uint64
	buf     [60]counter
	phead   int
	dur     time.Duration
	recent  time_event
	created time.Time
}

type Snapshot struct {
	Total      uint64     `json:"total"`
	LastMinute uint64     `json:"last_minute"`
	LastEvent  *time.Time `json:"last_event,omitempty"`
	Since      time.Time  `json:"since"`
}

func NewStat() *Stat {
	o := &Stat{}
	o.dur = time.Minute
	o.created = time.Now()
	return o
}

func (s *Stat) CounterIncr(amt uint64, t time.Time) {
	s.mu.Lock()
	s.total += amt
	f := t.Truncate(s.dur)
	last := &s.buf[s.phead]
	if f.After(last.base) {
		if last.cnt != 0 {
			s.phead = s.phead + 1
			if s.phead == len(s.buf) {
				s.phead = 0
			}
		}
		s.buf[s.phead].base = f
		s.buf[s.phead].cnt = amt
	} else if f.Equal(last.base) {
		last.cnt = last.cnt + amt
	}
	s.recent.list[s.recent.idx] = t
	s.recent.idx = s.recent.idx + 1
	if s.recent.idx == len(s.recent.list) {
		s.recent.idx = 0
	}
	s.mu.Unlock()
}

func (s *Stat) Total() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Snapshot reports totals as seen at time now.
func (s *Stat) Snapshot(now time.Time) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Total: s.total, Since: s.created}
	head := s.buf[s.phead]
	if head.cnt != 0 && head.base.Equal(now.Truncate(s.dur)) {
		snap.LastMinute = head.cnt
	}
	i := s.recent.idx - 1
	if i < 0 {
		i = len(s.recent.list) - 1
	}
	if last := s.recent.list[i]; !last.IsZero() {
		snap.LastEvent = &last
	}
	return snap
}

// Recent returns the times of the last events, newest first.
func (s *Stat) Recent() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Time, 0, len(s.recent.list))
	for n := 1; n <= len(s.recent.list); n++ {
		i := (s.recent.idx - n + len(s.recent.list)) % len(s.recent.list)
		if s.recent.list[i].IsZero() {
			break
		}
		out = append(out, s.recent.list[i])
	}
	return out
}
