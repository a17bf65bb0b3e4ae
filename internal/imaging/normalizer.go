package imaging

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"regexp"
	"strings"
)

const (
	// DefaultMaxDimension caps the longer edge of normalized images
	DefaultMaxDimension = 2048

	scoringDimension = 800

	darkThreshold      = 100.0
	brightThreshold    = 200.0
	contrastThreshold  = 40.0
	sharpnessThreshold = 100.0

	brightnessShift = 30.0
	contrastBoost   = 1.3
	sharpenAmount   = 1.0
)

// Plan selects which normalization steps run
type Plan struct {
	Orientation  bool
	Deskew       bool
	Enhance      bool
	Denoise      bool
	MaxDimension int
	// FastResize uses bilinear instead of Catmull-Rom interpolation
	FastResize bool
}

var (
	// PlanLightweight skips enhancement and downsamples aggressively
	PlanLightweight = Plan{MaxDimension: 1024, FastResize: true}
	// PlanStandard straightens and enhances but trusts the capture orientation
	PlanStandard = Plan{Deskew: true, Enhance: true, Denoise: true, MaxDimension: DefaultMaxDimension}
	// PlanIntensive runs every step
	PlanIntensive = Plan{Orientation: true, Deskew: true, Enhance: true, Denoise: true, MaxDimension: DefaultMaxDimension}
)

// Scorer runs a cheap recognition pass and returns the recognized text
type Scorer interface {
	QuickText(ctx context.Context, img *image.NRGBA) (string, error)
}

// ScorerFunc adapts a function to Scorer
type ScorerFunc func(ctx context.Context, img *image.NRGBA) (string, error)

// QuickText calls f
func (f ScorerFunc) QuickText(ctx context.Context, img *image.NRGBA) (string, error) {
	return f(ctx, img)
}

// Normalizer prepares receipt photographs for recognition
type Normalizer struct {
	scorer Scorer
}

// NewNormalizer creates a Normalizer. scorer may be nil, which disables
// orientation search.
func NewNormalizer(scorer Scorer) *Normalizer {
	return &Normalizer{scorer: scorer}
}

type step struct {
	name string
	run  func(ctx context.Context, p *image.NRGBA) (*image.NRGBA, error)
}

// Normalize runs the plan's steps in order. It never fails: a step that errors
// or panics is skipped and the best image so far is kept. img is not modified.
func (n *Normalizer) Normalize(ctx context.Context, img *Image, plan Plan) *Image {
	if img == nil || img.Pixels == nil {
		return img
	}

	maxDim := plan.MaxDimension
	if maxDim <= 0 {
		maxDim = DefaultMaxDimension
	}

	var steps []step
	// Bound the working set before the expensive passes.
	steps = append(steps, step{"prescale", func(_ context.Context, p *image.NRGBA) (*image.NRGBA, error) {
		return Resize(p, maxDim*2, true), nil
	}})
	if plan.Orientation && n.scorer != nil {
		steps = append(steps, step{"orientation", n.orient})
	}
	if plan.Deskew {
		steps = append(steps, step{"deskew", func(_ context.Context, p *image.NRGBA) (*image.NRGBA, error) {
			return Deskew(p), nil
		}})
	}
	if plan.Enhance {
		steps = append(steps, step{"enhance", func(_ context.Context, p *image.NRGBA) (*image.NRGBA, error) {
			return Enhance(p), nil
		}})
	}
	if plan.Denoise {
		steps = append(steps, step{"denoise", func(_ context.Context, p *image.NRGBA) (*image.NRGBA, error) {
			return Blur(p), nil
		}})
	}
	steps = append(steps, step{"resize", func(_ context.Context, p *image.NRGBA) (*image.NRGBA, error) {
		return Resize(p, maxDim, plan.FastResize), nil
	}})

	current := img.Pixels
	for _, s := range steps {
		if ctx.Err() != nil {
			break
		}
		next, err := runStep(ctx, s, current)
		if err != nil {
			slog.Warn("Normalization step failed, keeping previous image", "step", s.name, "error", err)
			continue
		}
		current = next
	}
	return img.with(current)
}

func runStep(ctx context.Context, s step, p *image.NRGBA) (out *image.NRGBA, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("panic in %s: %v", s.name, r)
		}
	}()
	out, err = s.run(ctx, p)
	if err == nil && out == nil {
		err = fmt.Errorf("%s produced no image", s.name)
	}
	return out, err
}

// Enhance conditionally fixes brightness, contrast and sharpness, touching
// only the metrics that fall outside their thresholds
func Enhance(p *image.NRGBA) *image.NRGBA {
	m := MeasureQuality(p)

	contrast := 1.0
	if m.Contrast < contrastThreshold {
		contrast = contrastBoost
	}
	brightness := 0.0
	switch {
	case m.Brightness < darkThreshold:
		brightness = brightnessShift
	case m.Brightness > brightThreshold:
		brightness = -brightnessShift
	}

	out := p
	if contrast != 1.0 || brightness != 0 {
		out = AdjustLevels(out, contrast, brightness)
	}
	if m.Sharpness < sharpnessThreshold {
		out = Sharpen(out, sharpenAmount)
	}
	return out
}

// orient tries the four quarter turns and keeps the best scoring one
func (n *Normalizer) orient(ctx context.Context, p *image.NRGBA) (*image.NRGBA, error) {
	small := Resize(p, scoringDimension, true)

	best, bestScore := 0, -1.0
	for q := 0; q < 4; q++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		text, err := n.scorer.QuickText(ctx, Rotate(small, q))
		if errors.Is(err, context.DeadlineExceeded) {
			// A stalled engine will stall on every rotation
			return nil, fmt.Errorf("orientation scoring timed out: %w", err)
		}
		if err != nil {
			slog.Debug("Orientation scoring pass failed", "quarter_turns", q, "error", err)
			continue
		}
		if score := OrientationScore(text); score > bestScore {
			best, bestScore = q, score
		}
	}
	if bestScore < 0 {
		return nil, fmt.Errorf("no orientation could be scored")
	}
	if best == 0 {
		return p, nil
	}
	return Rotate(p, best), nil
}

var (
	scorePricePattern = regexp.MustCompile(`\d+[.,]\d{2}\b`)
	receiptKeywords   = []string{"total", "subtotal", "tax", "gct", "cash", "change", "receipt", "qty", "item", "store", "thank"}
)

// OrientationScore rates how receipt-like recognized text looks:
// 10 per price token, 5 per receipt keyword, plus a line-count bonus once the
// text looks like a receipt
func OrientationScore(text string) float64 {
	lower := strings.ToLower(text)
	prices := len(scorePricePattern.FindAllString(lower, -1))

	keywords := 0
	for _, k := range receiptKeywords {
		if strings.Contains(lower, k) {
			keywords++
		}
	}

	score := float64(prices*10 + keywords*5)
	if prices > 0 || keywords > 0 {
		lines := 0
		for _, l := range strings.Split(text, "\n") {
			if strings.TrimSpace(l) != "" {
				lines++
			}
		}
		score += float64(min(lines, 20))
	}
	return score
}
