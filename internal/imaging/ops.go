package imaging

import (
	"image"
	"math"

	xdraw "golang.org/x/image/draw"
)

// Metrics summarizes image quality over a sampled grid
type Metrics struct {
	Brightness float64 // mean luminance, 0-255
	Contrast   float64 // luminance standard deviation
	Sharpness  float64 // variance of the Laplacian
}

// gray holds a luminance plane
type gray struct {
	w, h int
	v    []float64
}

func (g *gray) at(x, y int) float64 {
	if x < 0 {
		x = 0
	} else if x >= g.w {
		x = g.w - 1
	}
	if y < 0 {
		y = 0
	} else if y >= g.h {
		y = g.h - 1
	}
	return g.v[y*g.w+x]
}

func luminance(p *image.NRGBA) *gray {
	b := p.Bounds()
	g := &gray{w: b.Dx(), h: b.Dy(), v: make([]float64, b.Dx()*b.Dy())}
	for y := 0; y < g.h; y++ {
		row := p.Pix[y*p.Stride:]
		for x := 0; x < g.w; x++ {
			i := x * 4
			g.v[y*g.w+x] = 0.299*float64(row[i]) + 0.587*float64(row[i+1]) + 0.114*float64(row[i+2])
		}
	}
	return g
}

// MeasureQuality computes brightness, contrast and sharpness on a grid of at most
// about 100x100 sample points
func MeasureQuality(p *image.NRGBA) Metrics {
	g := luminance(p)
	if g.w < 3 || g.h < 3 {
		return Metrics{}
	}
	step := max(1, min(g.w, g.h)/100)

	var sum, sumSq float64
	var lapSum, lapSq float64
	n, ln := 0, 0
	for y := 0; y < g.h; y += step {
		for x := 0; x < g.w; x += step {
			v := g.at(x, y)
			sum += v
			sumSq += v * v
			n++
			if x > 0 && y > 0 && x < g.w-1 && y < g.h-1 {
				lap := g.at(x-1, y) + g.at(x+1, y) + g.at(x, y-1) + g.at(x, y+1) - 4*v
				lapSum += lap
				lapSq += lap * lap
				ln++
			}
		}
	}

	m := Metrics{}
	mean := sum / float64(n)
	m.Brightness = mean
	m.Contrast = math.Sqrt(math.Max(0, sumSq/float64(n)-mean*mean))
	if ln > 0 {
		lm := lapSum / float64(ln)
		m.Sharpness = math.Max(0, lapSq/float64(ln)-lm*lm)
	}
	return m
}

func clampByte(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}

// AdjustLevels applies v' = (v-128)*contrast + 128 + brightness per channel
func AdjustLevels(p *image.NRGBA, contrast, brightness float64) *image.NRGBA {
	dst := image.NewNRGBA(p.Bounds())
	for i := 0; i < len(p.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			dst.Pix[i+c] = clampByte((float64(p.Pix[i+c])-128)*contrast + 128 + brightness)
		}
		dst.Pix[i+3] = p.Pix[i+3]
	}
	return dst
}

// Blur applies a 3x3 Gaussian kernel with clamped edges
func Blur(p *image.NRGBA) *image.NRGBA {
	b := p.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewNRGBA(b)
	kernel := [3][3]float64{{1, 2, 1}, {2, 4, 2}, {1, 2, 1}}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc [4]float64
			for ky := -1; ky <= 1; ky++ {
				sy := min(max(y+ky, 0), h-1)
				for kx := -1; kx <= 1; kx++ {
					sx := min(max(x+kx, 0), w-1)
					k := kernel[ky+1][kx+1]
					i := sy*p.Stride + sx*4
					acc[0] += k * float64(p.Pix[i])
					acc[1] += k * float64(p.Pix[i+1])
					acc[2] += k * float64(p.Pix[i+2])
					acc[3] += k * float64(p.Pix[i+3])
				}
			}
			o := y*dst.Stride + x*4
			for c := 0; c < 4; c++ {
				dst.Pix[o+c] = clampByte(acc[c] / 16)
			}
		}
	}
	return dst
}

// Sharpen applies an unsharp mask: v + amount*(v - blur(v))
func Sharpen(p *image.NRGBA, amount float64) *image.NRGBA {
	blurred := Blur(p)
	dst := image.NewNRGBA(p.Bounds())
	for i := 0; i < len(p.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			v := float64(p.Pix[i+c])
			dst.Pix[i+c] = clampByte(v + amount*(v-float64(blurred.Pix[i+c])))
		}
		dst.Pix[i+3] = p.Pix[i+3]
	}
	return dst
}

// Rotate rotates clockwise by quarter turns (0-3)
func Rotate(p *image.NRGBA, quarters int) *image.NRGBA {
	quarters = ((quarters % 4) + 4) % 4
	b := p.Bounds()
	w, h := b.Dx(), b.Dy()

	var dst *image.NRGBA
	if quarters%2 == 1 {
		dst = image.NewNRGBA(image.Rect(0, 0, h, w))
	} else {
		dst = image.NewNRGBA(image.Rect(0, 0, w, h))
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var dx, dy int
			switch quarters {
			case 0:
				dx, dy = x, y
			case 1:
				dx, dy = h-1-y, x
			case 2:
				dx, dy = w-1-x, h-1-y
			case 3:
				dx, dy = y, w-1-x
			}
			si := y*p.Stride + x*4
			di := dy*dst.Stride + dx*4
			copy(dst.Pix[di:di+4], p.Pix[si:si+4])
		}
	}
	return dst
}

// Resize caps the longer edge at maxDim. fast trades quality for speed.
func Resize(p *image.NRGBA, maxDim int, fast bool) *image.NRGBA {
	b := p.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxDim <= 0 || max(w, h) <= maxDim {
		return p
	}

	scale := float64(maxDim) / float64(max(w, h))
	tw := max(1, int(math.Round(float64(w)*scale)))
	th := max(1, int(math.Round(float64(h)*scale)))

	dst := image.NewNRGBA(image.Rect(0, 0, tw, th))
	interp := xdraw.Interpolator(xdraw.CatmullRom)
	if fast {
		interp = xdraw.ApproxBiLinear
	}
	interp.Scale(dst, dst.Bounds(), p, b, xdraw.Src, nil)
	return dst
}

// Crop copies the part of p inside r
func Crop(p *image.NRGBA, r image.Rectangle) *image.NRGBA {
	r = r.Intersect(p.Bounds())
	dst := image.NewNRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	xdraw.Draw(dst, dst.Bounds(), p, r.Min, xdraw.Src)
	return dst
}

// sampleBilinear reads a pixel at fractional coordinates
func sampleBilinear(p *image.NRGBA, fx, fy float64) [4]uint8 {
	b := p.Bounds()
	w, h := b.Dx(), b.Dy()
	fx = math.Max(0, math.Min(fx, float64(w-1)))
	fy = math.Max(0, math.Min(fy, float64(h-1)))
	x0, y0 := int(fx), int(fy)
	x1, y1 := min(x0+1, w-1), min(y0+1, h-1)
	ax, ay := fx-float64(x0), fy-float64(y0)

	var out [4]uint8
	for c := 0; c < 4; c++ {
		v00 := float64(p.Pix[y0*p.Stride+x0*4+c])
		v10 := float64(p.Pix[y0*p.Stride+x1*4+c])
		v01 := float64(p.Pix[y1*p.Stride+x0*4+c])
		v11 := float64(p.Pix[y1*p.Stride+x1*4+c])
		top := v00 + (v10-v00)*ax
		bottom := v01 + (v11-v01)*ax
		out[c] = clampByte(top + (bottom-top)*ay)
	}
	return out
}
