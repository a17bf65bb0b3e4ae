package tesseract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"

	"github.com/zombor/pricescan/internal/recognition"
)

// ErrClosed is returned by Recognize once the engine has been closed
var ErrClosed = errors.New("tesseract engine closed")

// client is the part of *gosseract.Client the engine drives
type client interface {
	SetImageFromBytes(data []byte) error
	Text() (string, error)
	GetBoundingBoxes(level gosseract.PageIteratorLevel) ([]gosseract.BoundingBox, error)
	Close() error
}

// Engine implements recognition.Recognizer with a pool of reusable
// gosseract clients. A client is never shared by two calls at once.
type Engine struct {
	languages []string
	clients   chan client
	done      chan struct{}

	mu     sync.Mutex
	closed bool
}

// New creates an Engine holding size pooled clients
func New(size int, languages ...string) (*Engine, error) {
	if size <= 0 {
		size = 2
	}
	if len(languages) == 0 {
		languages = []string{"eng"}
	}

	t := newEngine(size, languages)
	for i := 0; i < size; i++ {
		c := gosseract.NewClient()
		if err := c.SetLanguage(languages...); err != nil {
			c.Close()
			t.Close()
			return nil, fmt.Errorf("setting tesseract languages: %w", err)
		}
		t.clients <- c
	}
	return t, nil
}

func newEngine(size int, languages []string) *Engine {
	return &Engine{
		languages: languages,
		clients:   make(chan client, size),
		done:      make(chan struct{}),
	}
}

type tesseractResult struct {
	text *recognition.Text
	err  error
}

// Recognize runs Tesseract over the image. If ctx ends first the call returns
// immediately and the client goes back to the pool once the engine finishes.
func (t *Engine) Recognize(ctx context.Context, image []byte, meta recognition.Metadata) (*recognition.Text, error) {
	var c client
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done:
		return nil, ErrClosed
	case c = <-t.clients:
	}

	done := make(chan tesseractResult, 1)
	go func() {
		defer t.release(c)
		text, err := recognizeWithClient(c, image)
		done <- tesseractResult{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		return res.text, res.err
	}
}

// release returns c to the pool, or closes it when the engine is closed
func (t *Engine) release(c client) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		c.Close()
		return
	}
	t.clients <- c
}

func recognizeWithClient(c client, image []byte) (*recognition.Text, error) {
	if err := c.SetImageFromBytes(image); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}
	plain, err := c.Text()
	if err != nil {
		return nil, fmt.Errorf("recognize text: %w", err)
	}

	blockBoxes, err := c.GetBoundingBoxes(gosseract.RIL_BLOCK)
	if err != nil {
		return nil, fmt.Errorf("block boxes: %w", err)
	}
	lineBoxes, err := c.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("line boxes: %w", err)
	}
	wordBoxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("word boxes: %w", err)
	}

	return assemble(strings.TrimSpace(plain), toRects(blockBoxes), toLines(lineBoxes), toElements(wordBoxes)), nil
}

func rectOf(b gosseract.BoundingBox) recognition.Rect {
	return recognition.Rect{
		X:      float64(b.Box.Min.X),
		Y:      float64(b.Box.Min.Y),
		Width:  float64(b.Box.Dx()),
		Height: float64(b.Box.Dy()),
	}
}

func toRects(boxes []gosseract.BoundingBox) []recognition.Rect {
	out := make([]recognition.Rect, 0, len(boxes))
	for _, b := range boxes {
		out = append(out, rectOf(b))
	}
	return out
}

func toLines(boxes []gosseract.BoundingBox) []recognition.Line {
	out := make([]recognition.Line, 0, len(boxes))
	for _, b := range boxes {
		out = append(out, recognition.Line{
			Text:       strings.TrimSpace(b.Word),
			Bounds:     rectOf(b),
			Confidence: recognition.Float(b.Confidence / 100.0),
		})
	}
	return out
}

func toElements(boxes []gosseract.BoundingBox) []recognition.Element {
	out := make([]recognition.Element, 0, len(boxes))
	for _, b := range boxes {
		out = append(out, recognition.Element{
			Text:       strings.TrimSpace(b.Word),
			Bounds:     rectOf(b),
			Confidence: recognition.Float(b.Confidence / 100.0),
		})
	}
	return out
}

// assemble nests elements into lines and lines into blocks by center containment
func assemble(plain string, blocks []recognition.Rect, lines []recognition.Line, elements []recognition.Element) *recognition.Text {
	for _, e := range elements {
		cx, cy := e.Bounds.Center()
		for i := range lines {
			if lines[i].Bounds.Contains(cx, cy) {
				lines[i].Elements = append(lines[i].Elements, e)
				break
			}
		}
	}

	if len(blocks) == 0 {
		blocks = []recognition.Rect{recognition.Union(boundsOf(lines)...)}
	}
	out := &recognition.Text{Text: plain, Blocks: make([]recognition.Block, len(blocks))}
	for i, r := range blocks {
		out.Blocks[i].Bounds = r
	}
	for _, l := range lines {
		cx, cy := l.Bounds.Center()
		idx := 0
		for i, r := range blocks {
			if r.Contains(cx, cy) {
				idx = i
				break
			}
		}
		out.Blocks[idx].Lines = append(out.Blocks[idx].Lines, l)
	}

	kept := out.Blocks[:0]
	for _, b := range out.Blocks {
		if len(b.Lines) == 0 {
			continue
		}
		texts := make([]string, 0, len(b.Lines))
		for _, l := range b.Lines {
			texts = append(texts, l.Text)
		}
		b.Text = strings.Join(texts, "\n")
		kept = append(kept, b)
	}
	out.Blocks = kept
	return out
}

// Close releases every idle client. Clients still running a recognition
// are closed as soon as they come back.
func (t *Engine) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.done)
	for {
		select {
		case c := <-t.clients:
			c.Close()
		default:
			return nil
		}
	}
}

func boundsOf(lines []recognition.Line) []recognition.Rect {
	out := make([]recognition.Rect, 0, len(lines))
	for _, l := range lines {
		out = append(out, l.Bounds)
	}
	return out
}
