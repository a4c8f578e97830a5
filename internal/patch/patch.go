// Package patch holds row-granular edits: half-open row ranges of an old text
// replaced by row ranges of a new text.
package patch

import "sort"

type Range struct {
	Start int
	End   int
}

func (r Range) Len() int { return r.End - r.Start }

func (r Range) IsEmpty() bool { return r.Start == r.End }

func (r Range) Overlaps(o Range) bool {
	return r.Start < o.End && o.Start < r.End
}

type Edit struct {
	Old Range
	New Range
}

func (e Edit) OldLen() int { return e.Old.Len() }

func (e Edit) NewLen() int { return e.New.Len() }

// Delta is the row count change the edit introduces.
func (e Edit) Delta() int { return e.NewLen() - e.OldLen() }

func (e Edit) IsEmpty() bool { return e.Old.IsEmpty() && e.New.IsEmpty() }

// Patch is a sequence of edits sorted by Old.Start with disjoint old ranges.
type Patch struct {
	edits []Edit
}

// New wraps edits that are already sorted and disjoint.
func New(edits []Edit) Patch {
	return Patch{edits: edits}
}

func (p Patch) Edits() []Edit { return p.edits }

func (p Patch) Len() int { return len(p.edits) }

func (p Patch) IsEmpty() bool { return len(p.edits) == 0 }

func (p *Patch) Clear() { p.edits = nil }

func (p Patch) Clone() Patch {
	return Patch{edits: append([]Edit(nil), p.edits...)}
}

// Push inserts e at its sorted position, merging it with any edit whose old
// range overlaps or touches it. Empty edits are ignored.
func (p *Patch) Push(e Edit) {
	if e.IsEmpty() {
		return
	}
	if n := len(p.edits); n == 0 || p.edits[n-1].Old.End < e.Old.Start {
		p.edits = append(p.edits, e)
		return
	} else if last := &p.edits[n-1]; last.Old.Start <= e.Old.Start {
		last.Old.End = max(last.Old.End, e.Old.End)
		last.New.End = max(last.New.End, e.New.End)
		return
	}

	i := sort.Search(len(p.edits), func(k int) bool { return p.edits[k].Old.End >= e.Old.Start })
	j := i
	for j < len(p.edits) && p.edits[j].Old.Start <= e.Old.End {
		e.Old.Start = min(e.Old.Start, p.edits[j].Old.Start)
		e.Old.End = max(e.Old.End, p.edits[j].Old.End)
		e.New.Start = min(e.New.Start, p.edits[j].New.Start)
		e.New.End = max(e.New.End, p.edits[j].New.End)
		j++
	}
	out := make([]Edit, 0, len(p.edits)-(j-i)+1)
	out = append(out, p.edits[:i]...)
	out = append(out, e)
	out = append(out, p.edits[j:]...)
	p.edits = out
}

// RetainMut calls keep for every edit in order, letting it adjust the edit in
// place, and drops the edits for which it returns false.
func (p *Patch) RetainMut(keep func(*Edit) bool) {
	out := p.edits[:0]
	for i := range p.edits {
		e := p.edits[i]
		if keep(&e) {
			out = append(out, e)
		}
	}
	for i := len(out); i < len(p.edits); i++ {
		p.edits[i] = Edit{}
	}
	p.edits = out
}
