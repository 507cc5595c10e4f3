package merge

import (
	"cmp"
	"slices"
	"time"

	"github.com/sells-group/fundamentals/internal/model"
)

const (
	// windowSpan is the distance within which two periods are the same period.
	windowSpan = 7 * 24 * time.Hour
	maxWindows = 30
)

type tagged struct {
	slot  Slot
	stmt  model.Statement
	date  time.Time
	dated bool
	seq   int
}

// window is one period group; anchor is its most recent member.
type window struct {
	anchor  *tagged
	members [numSlots]*tagged
}

// Statements merges up to four statement lists of the same type. Each list is
// tagged with the slot of its argument position; accumulated is always the
// primary slot, whatever providers its values originally came from. The
// result holds one statement per 7-day period window, most recent first,
// limited to the 30 most recent windows.
func (m *Merger) Statements(t model.StatementType, accumulated, official, deep, fallback []model.Statement) []model.Statement {
	pool := pool(accumulated, official, deep, fallback)
	if len(pool) == 0 {
		return nil
	}
	slices.SortStableFunc(pool, comparePooled)

	windows := group(pool)
	if len(windows) > maxWindows {
		windows = windows[:maxWindows]
	}

	out := make([]model.Statement, 0, len(windows))
	for _, w := range windows {
		stmt, winners := m.resolve(t, w)
		out = append(out, stmt)
		m.record(model.ScopeFor(t), stmt.Period, winners)
	}
	return out
}

func pool(lists ...[]model.Statement) []tagged {
	var out []tagged
	for i, list := range lists {
		for _, s := range list {
			d, ok := model.ParsePeriod(s.Period)
			out = append(out, tagged{slot: Slot(i), stmt: s, date: d, dated: ok, seq: len(out)})
		}
	}
	return out
}

// comparePooled orders dated statements newest first, then undated ones by
// label descending. Ties fall back to slot and input order, so the result
// never depends on map iteration or sort instability.
func comparePooled(a, b tagged) int {
	if a.dated != b.dated {
		if a.dated {
			return -1
		}
		return 1
	}
	if a.dated {
		if c := b.date.Compare(a.date); c != 0 {
			return c
		}
	} else if c := cmp.Compare(b.stmt.Period, a.stmt.Period); c != 0 {
		return c
	}
	if c := cmp.Compare(a.slot, b.slot); c != 0 {
		return c
	}
	return cmp.Compare(a.seq, b.seq)
}

func group(pool []tagged) []window {
	var windows []window
	for i := range pool {
		p := &pool[i]
		if n := len(windows); n > 0 && sameWindow(windows[n-1].anchor, p) {
			windows[n-1].add(p)
			continue
		}
		w := window{anchor: p}
		w.add(p)
		windows = append(windows, w)
	}
	return windows
}

// sameWindow compares against the window anchor, so consecutive anchors are
// always more than one window apart.
func sameWindow(anchor, p *tagged) bool {
	if anchor.dated && p.dated {
		return anchor.date.Sub(p.date) <= windowSpan
	}
	if !anchor.dated && !p.dated {
		return anchor.stmt.Period == p.stmt.Period
	}
	return false
}

// add keeps one statement per slot, preferring FY over Q over TTM.
func (w *window) add(p *tagged) {
	cur := w.members[p.slot]
	if cur == nil || kindRank(p.stmt.Kind) < kindRank(cur.stmt.Kind) {
		w.members[p.slot] = p
	}
}

func kindRank(k model.PeriodKind) int {
	switch k {
	case model.PeriodFY:
		return 0
	case model.PeriodQ:
		return 1
	case model.PeriodTTM:
		return 2
	}
	return 3
}

func (m *Merger) resolve(t model.StatementType, w window) (model.Statement, map[string]model.Source) {
	out := model.NewStatement(t, w.anchor.stmt.Period, resolveKind(w))
	winners := make(map[string]model.Source)
	for _, field := range t.Schema() {
		for _, src := range m.priorities.StatementPriority(field) {
			slot, ok := slotFor(src)
			if !ok || w.members[slot] == nil {
				continue
			}
			v := w.members[slot].stmt.Get(field)
			if v.IsNull() {
				continue
			}
			out.Fields[field] = v
			winners[field] = slot.Source()
			break
		}
	}
	return out, winners
}

func resolveKind(w window) model.PeriodKind {
	for _, slot := range kindOrder {
		if p := w.members[slot]; p != nil && p.stmt.Kind != "" {
			return p.stmt.Kind
		}
	}
	return model.PeriodFY
}
