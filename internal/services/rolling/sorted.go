package rolling

import "sort"

// SortedWindow is a Window that also keeps its contents in ascending order,
// so percentile queries do not sort on every call.
type SortedWindow struct {
	win    *Window
	sorted []float64
}

func NewSortedWindow(capacity int) *SortedWindow {
	w := NewWindow(capacity)
	return &SortedWindow{win: w, sorted: make([]float64, 0, w.Cap())}
}

// Push appends v and evicts the oldest value when full.
func (s *SortedWindow) Push(v float64) {
	if old, ok := s.win.Push(v); ok {
		if i := s.indexOf(old); i >= 0 {
			s.sorted = append(s.sorted[:i], s.sorted[i+1:]...)
		}
	}
	i := sort.SearchFloat64s(s.sorted, v)
	s.sorted = append(s.sorted, 0)
	copy(s.sorted[i+1:], s.sorted[i:])
	s.sorted[i] = v
}

// indexOf finds v in the sorted slice. NaN never compares, so it sits at
// the tail and is located by scanning back from there.
func (s *SortedWindow) indexOf(v float64) int {
	if v != v {
		for i := len(s.sorted) - 1; i >= 0; i-- {
			if x := s.sorted[i]; x != x {
				return i
			}
		}
		return -1
	}
	i := sort.SearchFloat64s(s.sorted, v)
	if i < len(s.sorted) && s.sorted[i] == v {
		return i
	}
	return -1
}

func (s *SortedWindow) Len() int { return s.win.Len() }

// Values returns the contents in insertion order.
func (s *SortedWindow) Values() []float64 { return s.win.Values() }

// Percentile matches Percentile(s.Values(), p).
func (s *SortedWindow) Percentile(p float64) float64 {
	return percentileSorted(s.sorted, p)
}
