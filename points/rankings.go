/*
rankings.go - Windowed leaderboards over students and the ledger

PURPOSE:
  Produces the three ordered projections the classroom display shows:
  cumulative total, today's delta, and the current week's delta. Results are
  cached briefly; the TTL is the staleness bound, and the bus pushes
  rankings_updated on every mutation so clients refresh before expiry.

WINDOWS:
  daily  - the local calendar day containing now
  weekly - the local calendar week containing now; the week-start day comes
           from SystemConfig.WeekStart (0 = Sunday)

ORDERING:
  Descending by score, ties broken by student id ascending. For a fixed store
  state the output is deterministic and byte-stable.
*/
package points

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/warp/classpoints/cache"
)

// =============================================================================
// VIEWS
// =============================================================================

type RankingView string

const (
	ViewTotal  RankingView = "total"
	ViewDaily  RankingView = "daily"
	ViewWeekly RankingView = "weekly"
)

// ValidView reports whether v is one of the three projections.
func ValidView(v RankingView) bool {
	return v == ViewTotal || v == ViewDaily || v == ViewWeekly
}

// RankEntry is one row of a leaderboard.
type RankEntry struct {
	Rank      int    `json:"rank"`
	StudentID string `json:"studentId"`
	Name      string `json:"name"`
	Class     string `json:"class,omitempty"`
	Points    int    `json:"points"`
}

// StudentRank is one student's 1-based position in each view; a nil position
// means the student is absent from that list.
type StudentRank struct {
	StudentID    string `json:"studentId"`
	Total        *int   `json:"total"`
	Daily        *int   `json:"daily"`
	Weekly       *int   `json:"weekly"`
	StudentCount int    `json:"studentCount"`
}

const (
	rankingsTTL      = 60 * time.Second
	rankingsCacheCap = 50
)

// =============================================================================
// RANKINGS
// =============================================================================

// Rankings computes and caches the leaderboards.
type Rankings struct {
	Store Store

	cache *cache.Cache

	// Now is the clock; tests override it.
	Now func() time.Time
}

// NewRankings wires a rankings engine over the given store.
func NewRankings(store Store) *Rankings {
	return &Rankings{
		Store: store,
		cache: cache.New(rankingsTTL, rankingsCacheCap),
		Now:   time.Now,
	}
}

// Compute returns the top-limit entries of one view, serving from cache when
// a result for (view, limit) is still live.
func (r *Rankings) Compute(ctx context.Context, view RankingView, limit int) ([]RankEntry, error) {
	if !ValidView(view) {
		return nil, &ValidationError{Field: "type", Message: "must be total, daily, or weekly"}
	}
	if limit < 1 {
		return nil, &ValidationError{Field: "limit", Message: "must be at least 1"}
	}

	key := fmt.Sprintf("%s:%d", view, limit)
	if v, ok := r.cache.Get(key); ok {
		return v.([]RankEntry), nil
	}

	entries, err := r.compute(ctx, view, limit)
	if err != nil {
		return nil, err
	}
	r.cache.Put(key, entries)
	return entries, nil
}

// All returns all three views at once, each truncated to limit.
func (r *Rankings) All(ctx context.Context, limit int) (map[RankingView][]RankEntry, error) {
	out := make(map[RankingView][]RankEntry, 3)
	for _, view := range []RankingView{ViewTotal, ViewDaily, ViewWeekly} {
		entries, err := r.Compute(ctx, view, limit)
		if err != nil {
			return nil, err
		}
		out[view] = entries
	}
	return out, nil
}

// StudentRankOf returns one student's position in each view, ranked over the
// full student set.
func (r *Rankings) StudentRankOf(ctx context.Context, studentID string) (*StudentRank, error) {
	students, err := r.Store.Students(ctx)
	if err != nil {
		return nil, err
	}
	if students.FindStudent(studentID) == nil {
		return nil, ErrStudentNotFound
	}

	rank := &StudentRank{StudentID: studentID, StudentCount: len(students.Students)}
	assign := func(view RankingView, dst **int) error {
		entries, err := r.Compute(ctx, view, len(students.Students))
		if err != nil {
			return err
		}
		for i := range entries {
			if entries[i].StudentID == studentID {
				pos := entries[i].Rank
				*dst = &pos
				break
			}
		}
		return nil
	}
	if err := assign(ViewTotal, &rank.Total); err != nil {
		return nil, err
	}
	if err := assign(ViewDaily, &rank.Daily); err != nil {
		return nil, err
	}
	if err := assign(ViewWeekly, &rank.Weekly); err != nil {
		return nil, err
	}
	return rank, nil
}

// =============================================================================
// COMPUTATION
// =============================================================================

func (r *Rankings) compute(ctx context.Context, view RankingView, limit int) ([]RankEntry, error) {
	students, err := r.Store.Students(ctx)
	if err != nil {
		return nil, err
	}

	scores := make(map[string]int, len(students.Students))
	for i := range students.Students {
		scores[students.Students[i].ID] = 0
	}

	switch view {
	case ViewTotal:
		for i := range students.Students {
			s := &students.Students[i]
			scores[s.ID] = s.Balance
		}
	case ViewDaily, ViewWeekly:
		records, err := r.Store.Records(ctx)
		if err != nil {
			return nil, err
		}
		start, end, err := r.window(ctx, view)
		if err != nil {
			return nil, err
		}
		for i := range records.Records {
			rec := &records.Records[i]
			// Records of deleted students stay in the ledger but are
			// excluded here: only initialized keys accumulate.
			if _, ok := scores[rec.StudentID]; !ok {
				continue
			}
			if rec.CreatedAt.Before(start) || !rec.CreatedAt.Before(end) {
				continue
			}
			scores[rec.StudentID] += rec.Points
		}
	}

	entries := make([]RankEntry, 0, len(students.Students))
	for i := range students.Students {
		s := &students.Students[i]
		entries = append(entries, RankEntry{
			StudentID: s.ID,
			Name:      s.Name,
			Class:     s.Class,
			Points:    scores[s.ID],
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Points != entries[j].Points {
			return entries[i].Points > entries[j].Points
		}
		return entries[i].StudentID < entries[j].StudentID
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

// window returns the half-open [start, end) interval for daily/weekly views
// in local time.
func (r *Rankings) window(ctx context.Context, view RankingView) (time.Time, time.Time, error) {
	now := r.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	if view == ViewDaily {
		return midnight, midnight.AddDate(0, 0, 1), nil
	}

	weekStart := 0
	cfg, err := r.Store.Config(ctx)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if cfg.WeekStart >= 0 && cfg.WeekStart <= 6 {
		weekStart = cfg.WeekStart
	}

	daysBack := (int(midnight.Weekday()) - weekStart + 7) % 7
	start := midnight.AddDate(0, 0, -daysBack)
	return start, start.AddDate(0, 0, 7), nil
}
