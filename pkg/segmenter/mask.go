package segmenter

// Mask is a binary foreground mask. Pix is indexed y*Width+x.
type Mask struct {
	Width  int
	Height int
	Pix    []bool

	sat []int
}

// NewMask returns an all-background mask
func NewMask(width, height int) *Mask {
	return &Mask{Width: width, Height: height, Pix: make([]bool, width*height)}
}

// FullMask returns a mask marking every pixel as foreground
func FullMask(width, height int) *Mask {
	m := NewMask(width, height)
	for i := range m.Pix {
		m.Pix[i] = true
	}
	return m
}

// At reports whether (x, y) is foreground. Outside pixels are background.
func (m *Mask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}
	return m.Pix[y*m.Width+x]
}

// Set marks (x, y). It invalidates cached window sums.
func (m *Mask) Set(x, y int, v bool) {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return
	}
	m.Pix[y*m.Width+x] = v
	m.sat = nil
}

// Count returns the number of foreground pixels
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Pix {
		if v {
			n++
		}
	}
	return n
}

// CountIn returns the number of foreground pixels in [x0,x1)×[y0,y1),
// clipped to the mask.
func (m *Mask) CountIn(x0, y0, x1, y1 int) int {
	x0, y0 = max(x0, 0), max(y0, 0)
	x1, y1 = min(x1, m.Width), min(y1, m.Height)
	if x0 >= x1 || y0 >= y1 {
		return 0
	}
	m.buildSAT()
	stride := m.Width + 1
	return m.sat[y1*stride+x1] - m.sat[y0*stride+x1] - m.sat[y1*stride+x0] + m.sat[y0*stride+x0]
}

// FractionIn returns the foreground fraction of the size×size window at
// (x, y). The part of the window outside the mask counts as background.
func (m *Mask) FractionIn(x, y, size int) float64 {
	if size <= 0 {
		return 0
	}
	return float64(m.CountIn(x, y, x+size, y+size)) / float64(size*size)
}

// buildSAT computes the summed-area table used by CountIn
func (m *Mask) buildSAT() {
	if m.sat != nil {
		return
	}
	stride := m.Width + 1
	m.sat = make([]int, stride*(m.Height+1))
	for y := 0; y < m.Height; y++ {
		rowSum := 0
		for x := 0; x < m.Width; x++ {
			if m.Pix[y*m.Width+x] {
				rowSum++
			}
			m.sat[(y+1)*stride+x+1] = m.sat[y*stride+x+1] + rowSum
		}
	}
}
