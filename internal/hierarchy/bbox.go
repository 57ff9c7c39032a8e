package hierarchy

// BBox is an axis-aligned world-space (nm) bounding box used to prune
// subgraph descent: any chunk whose own bounds don't overlap BBox is
// skipped without reading its children (spec §4.3).
type BBox struct {
	Min, Max [3]float64
}

// Disjoint reports whether [min, max) shares no volume with b.
func (b BBox) Disjoint(min, max [3]float64) bool {
	for i := 0; i < 3; i++ {
		if max[i] <= b.Min[i] || min[i] >= b.Max[i] {
			return true
		}
	}
	return false
}

// Expand returns b grown by margin on every side.
func (b BBox) Expand(margin [3]float64) BBox {
	return BBox{
		Min: [3]float64{b.Min[0] - margin[0], b.Min[1] - margin[1], b.Min[2] - margin[2]},
		Max: [3]float64{b.Max[0] + margin[0], b.Max[1] + margin[1], b.Max[2] + margin[2]},
	}
}

// HullOf returns the axis-aligned bounding box of points.
func HullOf(points [][3]float64) BBox {
	if len(points) == 0 {
		return BBox{}
	}
	b := BBox{Min: points[0], Max: points[0]}
	for _, p := range points[1:] {
		for i := 0; i < 3; i++ {
			if p[i] < b.Min[i] {
				b.Min[i] = p[i]
			}
			if p[i] > b.Max[i] {
				b.Max[i] = p[i]
			}
		}
	}
	return b
}
