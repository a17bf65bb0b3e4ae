package imaging

import (
	"image"
	"math"
)

const (
	deskewWorkSize   = 512
	minQuadCoverage  = 0.25
	minSkewDegrees   = 1.0
	minCornerSpacing = 0.1
)

type point struct{ x, y float64 }

func dist(a, b point) float64 {
	return math.Hypot(a.x-b.x, a.y-b.y)
}

// Quad holds the four receipt corners in source pixel coordinates
type Quad struct {
	TL, TR, BR, BL point
}

// DetectCorners finds the receipt outline on a Sobel edge map using the
// extreme-sum/difference corner heuristic. ok is false unless four distinct
// corners forming a convex quad covering enough of the frame are found.
func DetectCorners(p *image.NRGBA) (Quad, bool) {
	work := Resize(p, deskewWorkSize, true)
	scale := float64(p.Bounds().Dx()) / float64(work.Bounds().Dx())

	g := luminance(work)
	if g.w < 8 || g.h < 8 {
		return Quad{}, false
	}

	mag := make([]float64, g.w*g.h)
	var sum, sumSq float64
	for y := 1; y < g.h-1; y++ {
		for x := 1; x < g.w-1; x++ {
			gx := -g.at(x-1, y-1) - 2*g.at(x-1, y) - g.at(x-1, y+1) + g.at(x+1, y-1) + 2*g.at(x+1, y) + g.at(x+1, y+1)
			gy := -g.at(x-1, y-1) - 2*g.at(x, y-1) - g.at(x+1, y-1) + g.at(x-1, y+1) + 2*g.at(x, y+1) + g.at(x+1, y+1)
			m := math.Hypot(gx, gy)
			mag[y*g.w+x] = m
			sum += m
			sumSq += m * m
		}
	}
	n := float64((g.w - 2) * (g.h - 2))
	mean := sum / n
	threshold := mean + 2*math.Sqrt(math.Max(0, sumSq/n-mean*mean))
	if threshold <= 0 {
		return Quad{}, false
	}

	var q Quad
	minSum, maxSum := math.MaxFloat64, -math.MaxFloat64
	minDiff, maxDiff := math.MaxFloat64, -math.MaxFloat64
	edges := 0
	for y := 1; y < g.h-1; y++ {
		for x := 1; x < g.w-1; x++ {
			if mag[y*g.w+x] < threshold {
				continue
			}
			edges++
			fx, fy := float64(x), float64(y)
			if s := fx + fy; s < minSum {
				minSum, q.TL = s, point{fx, fy}
			}
			if s := fx + fy; s > maxSum {
				maxSum, q.BR = s, point{fx, fy}
			}
			if d := fx - fy; d > maxDiff {
				maxDiff, q.TR = d, point{fx, fy}
			}
			if d := fx - fy; d < minDiff {
				minDiff, q.BL = d, point{fx, fy}
			}
		}
	}
	if edges < 4 {
		return Quad{}, false
	}

	spacing := minCornerSpacing * float64(min(g.w, g.h))
	corners := []point{q.TL, q.TR, q.BR, q.BL}
	for i := range corners {
		for j := i + 1; j < len(corners); j++ {
			if dist(corners[i], corners[j]) < spacing {
				return Quad{}, false
			}
		}
	}
	if !convex(corners) {
		return Quad{}, false
	}
	if area(corners) < minQuadCoverage*float64(g.w*g.h) {
		return Quad{}, false
	}

	for i := range corners {
		corners[i] = point{corners[i].x * scale, corners[i].y * scale}
	}
	return Quad{TL: corners[0], TR: corners[1], BR: corners[2], BL: corners[3]}, true
}

// skewDegrees is the largest deviation of the top and left edges from the axes
func (q Quad) skewDegrees() float64 {
	top := math.Atan2(q.TR.y-q.TL.y, q.TR.x-q.TL.x)
	left := math.Atan2(q.BL.x-q.TL.x, q.BL.y-q.TL.y)
	return math.Max(math.Abs(top), math.Abs(left)) * 180 / math.Pi
}

// Deskew straightens a skewed receipt by mapping its detected outline onto an
// upright rectangle. It returns p unchanged when no outline is found or the
// outline is already upright.
func Deskew(p *image.NRGBA) *image.NRGBA {
	q, ok := DetectCorners(p)
	if !ok || q.skewDegrees() < minSkewDegrees {
		return p
	}
	return warp(p, q)
}

// warp resamples the quad into a rectangle using bilinear corner interpolation
func warp(p *image.NRGBA, q Quad) *image.NRGBA {
	w := int(math.Round(math.Max(dist(q.TL, q.TR), dist(q.BL, q.BR))))
	h := int(math.Round(math.Max(dist(q.TL, q.BL), dist(q.TR, q.BR))))
	if w < 1 || h < 1 {
		return p
	}

	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	for v := 0; v < h; v++ {
		t := float64(v) / float64(max(h-1, 1))
		for u := 0; u < w; u++ {
			s := float64(u) / float64(max(w-1, 1))
			sx := (1-s)*(1-t)*q.TL.x + s*(1-t)*q.TR.x + (1-s)*t*q.BL.x + s*t*q.BR.x
			sy := (1-s)*(1-t)*q.TL.y + s*(1-t)*q.TR.y + (1-s)*t*q.BL.y + s*t*q.BR.y
			px := sampleBilinear(p, sx, sy)
			copy(dst.Pix[v*dst.Stride+u*4:], px[:])
		}
	}
	return dst
}

func cross(o, a, b point) float64 {
	return (a.x-o.x)*(b.y-o.y) - (a.y-o.y)*(b.x-o.x)
}

// convex reports whether the polygon turns the same way at every vertex
func convex(pts []point) bool {
	sign := 0.0
	for i := range pts {
		c := cross(pts[i], pts[(i+1)%len(pts)], pts[(i+2)%len(pts)])
		if c == 0 {
			return false
		}
		if sign == 0 {
			sign = c
		} else if (c > 0) != (sign > 0) {
			return false
		}
	}
	return true
}

// area is the shoelace polygon area
func area(pts []point) float64 {
	var a float64
	for i := range pts {
		j := (i + 1) % len(pts)
		a += pts[i].x*pts[j].y - pts[j].x*pts[i].y
	}
	return math.Abs(a) / 2
}
