package imaging

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/pricescan/internal/failure"
)

func TestImaging(t *testing.T) {
	// Disable logging during tests
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))

	RegisterFailHandler(Fail)
	RunSpecs(t, "Imaging Suite")
}

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	p := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p.SetNRGBA(x, y, c)
		}
	}
	return p
}

func striped(w, h int) *image.NRGBA {
	p := solid(w, h, color.NRGBA{240, 240, 240, 255})
	for y := 0; y < h; y += 8 {
		for x := 0; x < w; x++ {
			p.SetNRGBA(x, y, color.NRGBA{10, 10, 10, 255})
		}
	}
	return p
}

func codeOf(err error) failure.Code {
	var fe *failure.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

var _ = Describe("Rotate", func() {
	It("turns a marked corner clockwise", func() {
		p := solid(4, 2, color.NRGBA{0, 0, 0, 255})
		p.SetNRGBA(0, 0, color.NRGBA{255, 0, 0, 255})

		r := Rotate(p, 1)
		Expect(r.Bounds().Dx()).To(Equal(2))
		Expect(r.Bounds().Dy()).To(Equal(4))
		Expect(r.NRGBAAt(1, 0)).To(Equal(color.NRGBA{255, 0, 0, 255}))
	})

	It("is the identity after four turns", func() {
		p := striped(10, 6)
		Expect(Rotate(Rotate(p, 2), 2).Pix).To(Equal(p.Pix))
	})
})

var _ = Describe("Resize", func() {
	It("caps the longer edge", func() {
		r := Resize(solid(4000, 1000, color.NRGBA{255, 255, 255, 255}), 2048, false)
		Expect(r.Bounds().Dx()).To(Equal(2048))
		Expect(r.Bounds().Dy()).To(Equal(512))
	})

	It("leaves small images alone", func() {
		p := solid(300, 200, color.NRGBA{255, 255, 255, 255})
		Expect(Resize(p, 2048, false)).To(BeIdenticalTo(p))
	})
})

var _ = Describe("MeasureQuality and Enhance", func() {
	It("reports a dark flat image as dark, flat and blurry", func() {
		m := MeasureQuality(solid(200, 200, color.NRGBA{40, 40, 40, 255}))
		Expect(m.Brightness).To(BeNumerically("~", 40, 1))
		Expect(m.Contrast).To(BeNumerically("<", 1))
		Expect(m.Sharpness).To(BeNumerically("<", 1))
	})

	It("brightens a dark image", func() {
		p := solid(200, 200, color.NRGBA{40, 40, 40, 255})
		out := Enhance(p)
		Expect(MeasureQuality(out).Brightness).To(BeNumerically(">", 40))
	})

	It("does not modify its input", func() {
		p := solid(200, 200, color.NRGBA{40, 40, 40, 255})
		before := append([]uint8(nil), p.Pix...)
		Enhance(p)
		Expect(p.Pix).To(Equal(before))
	})
})

var _ = Describe("Deskew", func() {
	It("is a no-op when no outline is found", func() {
		p := solid(300, 300, color.NRGBA{200, 200, 200, 255})
		Expect(Deskew(p)).To(BeIdenticalTo(p))
	})

	It("straightens a rotated bright quad on a dark background", func() {
		p := solid(400, 400, color.NRGBA{20, 20, 20, 255})
		// Diamond-ish tilted quad
		tl, tr, br, bl := point{120, 40}, point{360, 110}, point{280, 360}, point{40, 290}
		for y := 0; y < 400; y++ {
			for x := 0; x < 400; x++ {
				pt := point{float64(x), float64(y)}
				if cross(tl, tr, pt) >= 0 && cross(tr, br, pt) >= 0 && cross(br, bl, pt) >= 0 && cross(bl, tl, pt) >= 0 {
					p.SetNRGBA(x, y, color.NRGBA{250, 250, 250, 255})
				}
			}
		}
		q, ok := DetectCorners(p)
		Expect(ok).To(BeTrue())
		Expect(q.skewDegrees()).To(BeNumerically(">", minSkewDegrees))

		out := Deskew(p)
		Expect(out).NotTo(BeIdenticalTo(p))
	})
})

var _ = Describe("OrientationScore", func() {
	It("rewards prices and receipt keywords", func() {
		upright := OrientationScore("HI-LO\nBREAD 350.00\nMILK 420.00\nTOTAL 770.00")
		garbage := OrientationScore("00'0LL 7VL0L\n00'02t X7IW")
		Expect(upright).To(BeNumerically(">", garbage))
	})
})

type rotationScorer struct {
	uprightAt int
	calls     int
}

func (r *rotationScorer) QuickText(_ context.Context, img *image.NRGBA) (string, error) {
	defer func() { r.calls++ }()
	if r.calls == r.uprightAt {
		return "TOTAL 100.00\nBREAD 50.00", nil
	}
	return "~~~", nil
}

var _ = Describe("Normalizer", func() {
	var (
		src  *Image
		out  *Image
		plan Plan
		norm *Normalizer
	)

	BeforeEach(func() {
		src = &Image{Pixels: striped(300, 200), SourcePath: "r.png", ByteSize: 1234}
		plan = PlanIntensive
		norm = NewNormalizer(&rotationScorer{uprightAt: 1})
	})

	JustBeforeEach(func() {
		out = norm.Normalize(context.Background(), src, plan)
	})

	It("keeps the source metadata", func() {
		Expect(out.SourcePath).To(Equal("r.png"))
		Expect(out.ByteSize).To(Equal(int64(1234)))
	})

	It("picks the rotation the scorer prefers", func() {
		Expect(out.Width()).To(Equal(200))
		Expect(out.Height()).To(Equal(300))
	})

	It("leaves the original pixels untouched", func() {
		Expect(src.Pixels.Pix).To(Equal(striped(300, 200).Pix))
	})

	When("using the lightweight plan on a large image", func() {
		BeforeEach(func() {
			plan = PlanLightweight
			src = &Image{Pixels: striped(3000, 1500)}
		})

		It("downsamples to the lightweight cap", func() {
			Expect(out.Width()).To(Equal(1024))
		})
	})

	When("a step panics", func() {
		BeforeEach(func() {
			norm = NewNormalizer(ScorerFunc(func(context.Context, *image.NRGBA) (string, error) {
				panic("engine crashed")
			}))
			plan = Plan{Orientation: true, MaxDimension: 2048}
		})

		It("returns the best image so far", func() {
			Expect(out.Width()).To(Equal(300))
			Expect(out.Height()).To(Equal(200))
		})
	})
})

var _ = Describe("Load", func() {
	var (
		dir  string
		path string
		img  *Image
		err  error
		opts LoadOptions
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		opts = LoadOptions{}
	})

	JustBeforeEach(func() {
		img, err = Load(path, opts)
	})

	When("the file is a valid PNG", func() {
		BeforeEach(func() {
			path = filepath.Join(dir, "receipt.png")
			data, encErr := EncodePNG(striped(200, 300))
			Expect(encErr).NotTo(HaveOccurred())
			Expect(os.WriteFile(path, data, 0644)).To(Succeed())
		})

		It("decodes it", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(img.Width()).To(Equal(200))
			Expect(img.Height()).To(Equal(300))
			Expect(img.Format).To(Equal("png"))
			Expect(img.SourcePath).To(Equal(path))
		})
	})

	When("the file does not exist", func() {
		BeforeEach(func() {
			path = filepath.Join(dir, "missing.jpg")
		})

		It("fails with NotFound", func() {
			Expect(codeOf(err)).To(Equal(failure.CodeNotFound))
		})
	})

	When("the image is too small", func() {
		BeforeEach(func() {
			path = filepath.Join(dir, "tiny.png")
			data, _ := EncodePNG(striped(50, 50))
			Expect(os.WriteFile(path, data, 0644)).To(Succeed())
		})

		It("fails with TooSmall", func() {
			Expect(codeOf(err)).To(Equal(failure.CodeTooSmall))
		})
	})

	When("the file is not an image", func() {
		BeforeEach(func() {
			path = filepath.Join(dir, "notes.png")
			Expect(os.WriteFile(path, []byte("\x89PNG\r\n\x1a\ngarbage"), 0644)).To(Succeed())
		})

		It("fails with Corrupted", func() {
			Expect(codeOf(err)).To(Equal(failure.CodeCorrupted))
		})
	})

	When("the file is over the size limit", func() {
		BeforeEach(func() {
			path = filepath.Join(dir, "huge.png")
			f, createErr := os.Create(path)
			Expect(createErr).NotTo(HaveOccurred())
			Expect(f.Truncate(MaxFileSize + 1)).To(Succeed())
			Expect(f.Close()).To(Succeed())
		})

		It("fails with TooLarge", func() {
			Expect(codeOf(err)).To(Equal(failure.CodeTooLarge))
		})
	})
})
