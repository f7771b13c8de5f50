package analytics

import (
	"cmp"
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"
)

// ErrUnauthorized is returned by Stats when the caller token does not match
// the configured secret or no secret is configured.
var ErrUnauthorized = errors.New("unauthorized")

const (
	topLimit  = 10
	dailyDays = 7
	day       = 24 * time.Hour
	dateOnly  = "2006-01-02"
)

// PathCount is one row of the top pages list.
type PathCount struct {
	Path  string `json:"path"`
	Count int    `json:"count"`
}

// ReferrerCount is one row of the top referrers list, keyed by hostname.
type ReferrerCount struct {
	Referrer string `json:"referrer"`
	Count    int    `json:"count"`
}

// DailyCount is the number of events on one UTC calendar date.
type DailyCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Snapshot is the dashboard view of the event log at query time.
type Snapshot struct {
	TotalVisits      int             `json:"totalVisits"`
	VisitsLast7Days  int             `json:"visitsLast7Days"`
	VisitsLast30Days int             `json:"visitsLast30Days"`
	TopPages         []PathCount     `json:"topPages"`
	TopReferrers     []ReferrerCount `json:"topReferrers"`
	DailyVisits      []DailyCount    `json:"dailyVisits"`
}

// EmptySnapshot is the "no data yet" view: zero counts and empty lists.
func EmptySnapshot() Snapshot {
	return Snapshot{
		TopPages:     []PathCount{},
		TopReferrers: []ReferrerCount{},
		DailyVisits:  []DailyCount{},
	}
}

// Compute aggregates events as seen at now. Ties in the top lists keep the
// order in which the keys first appear in events.
func Compute(events []Event, now time.Time) Snapshot {
	out := EmptySnapshot()
	if len(events) == 0 {
		return out
	}

	now = now.UTC()
	weekAgo := now.Add(-7 * day)
	monthAgo := now.Add(-30 * day)

	daily := make([]DailyCount, dailyDays)
	dayIndex := make(map[string]int, dailyDays)
	for i := range dailyDays {
		date := now.Add(-time.Duration(dailyDays-1-i) * day).Format(dateOnly)
		daily[i] = DailyCount{Date: date}
		dayIndex[date] = i
	}

	pages := newCounter()
	referrers := newCounter()

	for _, e := range events {
		pages.add(e.Path)

		if e.Referrer != "" {
			if host, ok := ReferrerHost(e.Referrer); ok {
				referrers.add(host)
			}
		}

		ts, ok := e.Time()
		if !ok {
			continue
		}
		if !ts.Before(monthAgo) {
			out.VisitsLast30Days++
		}
		if ts.Before(weekAgo) {
			continue
		}
		out.VisitsLast7Days++
		if i, ok := dayIndex[ts.UTC().Format(dateOnly)]; ok {
			daily[i].Count++
		}
	}

	out.TotalVisits = len(events)
	for _, kc := range pages.top(topLimit) {
		out.TopPages = append(out.TopPages, PathCount{Path: kc.key, Count: kc.count})
	}
	for _, kc := range referrers.top(topLimit) {
		out.TopReferrers = append(out.TopReferrers, ReferrerCount{Referrer: kc.key, Count: kc.count})
	}
	out.DailyVisits = daily
	return out
}

// ReferrerHost reduces a stored referrer to its hostname. Values without an
// http(s) scheme are read as https URLs. ok is false for values that do not
// parse or carry no host.
func ReferrerHost(raw string) (host string, ok bool) {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	host = strings.ToLower(u.Hostname())
	if host == "" {
		return "", false
	}
	return host, true
}

type keyCount struct {
	key   string
	count int
}

// counter groups keys while remembering first-seen order.
type counter struct {
	index map[string]int
	rows  []keyCount
}

func newCounter() *counter {
	return &counter{index: make(map[string]int)}
}

func (c *counter) add(key string) {
	if i, ok := c.index[key]; ok {
		c.rows[i].count++
		return
	}
	c.index[key] = len(c.rows)
	c.rows = append(c.rows, keyCount{key: key, count: 1})
}

func (c *counter) top(n int) []keyCount {
	slices.SortStableFunc(c.rows, func(a, b keyCount) int {
		return cmp.Compare(b.count, a.count)
	})
	if len(c.rows) > n {
		return c.rows[:n]
	}
	return c.rows
}

// Aggregator serves snapshots of an EventStore to holders of the admin
// secret.
type Aggregator struct {
	store  EventStore
	secret string
	now    func() time.Time
}

// NewAggregator returns an Aggregator reading from store. An empty secret
// locks Stats for every caller.
func NewAggregator(store EventStore, secret string) *Aggregator {
	return &Aggregator{
		store:  store,
		secret: secret,
		now:    time.Now,
	}
}

// Authorized reports whether token matches the configured secret.
func (a *Aggregator) Authorized(token string) bool {
	if a.secret == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(a.secret)) == 1
}

// Stats checks token and returns the current snapshot.
func (a *Aggregator) Stats(ctx context.Context, token string) (Snapshot, error) {
	if !a.Authorized(token) {
		return Snapshot{}, ErrUnauthorized
	}
	return a.Snapshot(ctx)
}

// Snapshot computes the current snapshot without an authorization check.
// Storage problems degrade to the empty snapshot; only a cancelled ctx is
// reported as an error.
func (a *Aggregator) Snapshot(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	events, err := a.store.ReadAll(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Snapshot{}, ctxErr
		}
		slog.Warn("analytics log unreadable, serving empty stats", "error", err)
		return EmptySnapshot(), nil
	}
	return Compute(events, a.now()), nil
}
