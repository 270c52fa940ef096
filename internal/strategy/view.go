package strategy

import "evalgate/internal/domain"

// View is a read-only window over bars ending at the current decision bar.
// The backing slice is capped at the current bar, so neither indexing nor
// reslicing can reach a later bar.
type View struct {
	bars []domain.Bar
}

// NewView returns the view over bars[lo..t]. It panics if the bounds are out
// of range, like a slice expression would.
func NewView(bars []domain.Bar, lo, t int) View {
	return View{bars: bars[lo : t+1 : t+1]}
}

// Len is the number of bars visible.
func (v View) Len() int { return len(v.bars) }

// Bar returns the i-th visible bar, 0 being the oldest.
func (v View) Bar(i int) domain.Bar { return v.bars[i] }

// Last returns the current bar.
func (v View) Last() domain.Bar { return v.bars[len(v.bars)-1] }

// Closes returns a copy of the visible close prices, oldest first.
func (v View) Closes() []float64 {
	out := make([]float64, len(v.bars))
	for i, b := range v.bars {
		out[i] = b.Close
	}
	return out
}

// Highs returns a copy of the visible high prices.
func (v View) Highs() []float64 {
	out := make([]float64, len(v.bars))
	for i, b := range v.bars {
		out[i] = b.High
	}
	return out
}

// Lows returns a copy of the visible low prices.
func (v View) Lows() []float64 {
	out := make([]float64, len(v.bars))
	for i, b := range v.bars {
		out[i] = b.Low
	}
	return out
}
