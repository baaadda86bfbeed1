// Package intent decides which bots want to wake for a given event.
//
// A bot registers an ordered list of signals, each a shell-style glob over
// event types plus optional filter predicates and a priority. Matching is
// pure: no rate limiting and no meta-event handling, those belong to the
// guard and the router.
package intent

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"covey/internal/event"
)

// Priority orders candidates within one match pass. Lower rank wins.
type Priority uint8

const (
	PriorityHigh Priority = iota
	PriorityMedium
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// ParsePriority maps a config string to a Priority. Empty means medium.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return PriorityHigh, nil
	case "", "medium":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	default:
		return 0, fmt.Errorf("invalid priority %q", s)
	}
}

// Filter is one predicate over an event's payload.
type Filter interface {
	Match(e event.Event) bool
}

// TagsAny matches when the event's tags share at least one element with
// the expected set.
type TagsAny []string

func (f TagsAny) Match(e event.Event) bool {
	tags := e.Strings("tags")
	for _, want := range f {
		for _, got := range tags {
			if got == want {
				return true
			}
		}
	}
	return false
}

// FieldEquals matches when the payload field exists and equals the
// expected value. A missing field never matches.
type FieldEquals struct {
	Key  string
	Want any
}

func (f FieldEquals) Match(e event.Event) bool {
	got, ok := e.Payload[f.Key]
	if !ok {
		return false
	}
	return equalValue(got, f.Want)
}

// failClosed is substituted for a malformed filter spec so the signal can
// never fire.
type failClosed struct{}

func (failClosed) Match(event.Event) bool { return false }

// ParseFilters converts a config filter mapping into predicates. The
// special key "tags_any" expects a list; every other key is an exact
// field-equality check. Malformed entries fail closed.
func ParseFilters(spec map[string]any) []Filter {
	if len(spec) == 0 {
		return nil
	}
	keys := make([]string, 0, len(spec))
	for k := range spec {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Filter, 0, len(spec))
	for _, key := range keys {
		val := spec[key]
		if key == "tags_any" {
			tags, ok := toStringSlice(val)
			if !ok || len(tags) == 0 {
				out = append(out, failClosed{})
				continue
			}
			out = append(out, TagsAny(tags))
			continue
		}
		out = append(out, FieldEquals{Key: key, Want: val})
	}
	return out
}

// Signal is one pattern+filters+priority tuple inside a bot's intent.
type Signal struct {
	Pattern  string
	Filters  []Filter
	Priority Priority
}

func (s Signal) matches(e event.Event) bool {
	ok, err := path.Match(s.Pattern, e.Type)
	if err != nil || !ok {
		return false
	}
	for _, f := range s.Filters {
		if !f.Match(e) {
			return false
		}
	}
	return true
}

// Candidate is one bot that wants the event.
type Candidate struct {
	Bot      string
	Priority Priority
}

type registration struct {
	signals []Signal
	order   int
}

// Matcher holds the live intent table. Bots register and unregister at
// runtime; custom bots come and go.
type Matcher struct {
	mu        sync.RWMutex
	bots      map[string]registration
	nextOrder int
}

func NewMatcher() *Matcher {
	return &Matcher{bots: make(map[string]registration)}
}

// Register installs (or replaces) a bot's signals. Registration order is
// the tiebreak among equal priorities and is preserved across replacement.
func (m *Matcher) Register(bot string, signals []Signal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.bots[bot]; ok {
		m.bots[bot] = registration{signals: signals, order: existing.order}
		return
	}
	m.bots[bot] = registration{signals: signals, order: m.nextOrder}
	m.nextOrder++
}

// Unregister removes a bot from the table. Unknown bots are a no-op.
func (m *Matcher) Unregister(bot string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bots, bot)
}

// Match returns the bots whose intent wants this event, highest priority
// first, registration order as tiebreak. Each bot appears at most once:
// its first matching signal wins, later signals are not consulted even if
// they carry a higher priority.
func (m *Matcher) Match(e event.Event) []Candidate {
	m.mu.RLock()
	type hit struct {
		Candidate
		order int
	}
	var hits []hit
	for bot, reg := range m.bots {
		for _, sig := range reg.signals {
			if sig.matches(e) {
				hits = append(hits, hit{Candidate{Bot: bot, Priority: sig.Priority}, reg.order})
				break
			}
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Priority != hits[j].Priority {
			return hits[i].Priority < hits[j].Priority
		}
		return hits[i].order < hits[j].order
	})

	out := make([]Candidate, len(hits))
	for i, h := range hits {
		out[i] = h.Candidate
	}
	return out
}

func toStringSlice(v any) ([]string, bool) {
	switch vv := v.(type) {
	case []string:
		return vv, true
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

// equalValue compares payload values with numeric normalization: YAML
// config produces ints where JSON payloads produce float64s. Non-scalar
// values never compare equal.
func equalValue(got, want any) bool {
	if gf, ok := toFloat(got); ok {
		wf, ok := toFloat(want)
		return ok && gf == wf
	}
	switch g := got.(type) {
	case string:
		w, ok := want.(string)
		return ok && g == w
	case bool:
		w, ok := want.(bool)
		return ok && g == w
	default:
		return false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
