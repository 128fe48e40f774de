package stamp

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// box is a normalised PDF rectangle.
type box struct {
	llx, lly, urx, ury float64
}

func (b box) height() float64 { return b.ury - b.lly }

// viewerToPage maps top-left-origin viewer coordinates onto the page's
// bottom-left-origin user space: x' = llx + x, y' = ury - y.
type viewerToPage struct {
	m *mat.Dense
}

func newViewerToPage(media box) viewerToPage {
	return viewerToPage{m: mat.NewDense(3, 3, []float64{
		1, 0, media.llx,
		0, -1, media.ury,
		0, 0, 1,
	})}
}

// apply transforms the viewer point (x, y).
func (t viewerToPage) apply(x, y float64) (float64, float64) {
	var out mat.VecDense
	out.MulVec(t.m, mat.NewVecDense(3, []float64{x, y, 1}))
	return round2(out.AtVec(0)), round2(out.AtVec(1))
}

func round2(v float64) float64 {
	r := math.Round(v*100) / 100
	if r == 0 {
		return 0
	}
	return r
}
