package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/pricescan/internal/pipeline"
	"github.com/zombor/pricescan/internal/receipt"
	"github.com/zombor/pricescan/internal/recognition"
	"github.com/zombor/pricescan/internal/scheduler"
)

// transcriptRecognizer answers every call with the same transcript
type transcriptRecognizer struct {
	mu    sync.Mutex
	lines []string
	calls int
}

func (t *transcriptRecognizer) Recognize(context.Context, []byte, recognition.Metadata) (*recognition.Text, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	return recognition.FromLines(t.lines, 100, 1000), nil
}

func (t *transcriptRecognizer) Close() error { return nil }

func (t *transcriptRecognizer) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

func pngBytes(w, h int) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 245, G: 245, B: 240, A: 255})
		}
	}
	var buf bytes.Buffer
	Expect(png.Encode(&buf, img)).To(Succeed())
	return buf.Bytes()
}

var _ = Describe("Integration", func() {
	var (
		tempDir    string
		recognizer *transcriptRecognizer
		service    *pipeline.Service
		ghServer   *ghttp.Server
	)

	BeforeEach(func() {
		tempDir = GinkgoT().TempDir()

		recognizer = &transcriptRecognizer{lines: []string{
			"PRICESMART",
			"MEMBERSHIP # 4411",
			"RICE 5LB   450.00",
			"TOTAL 450.00",
		}}

		var err error
		service, err = pipeline.NewWithDeps(recognizer, pipeline.Options{
			UsePersistentCache: true,
			CacheBackend:       pipeline.CacheBolt,
			CacheDir:           tempDir,
			OffloadWorkers:     -1,
		}, pipeline.Deps{Pressure: scheduler.StaticPressure(scheduler.Idle)})
		Expect(err).NotTo(HaveOccurred())

		uploads, err := NewLocalStorage(filepath.Join(tempDir, "uploads"))
		Expect(err).NotTo(HaveOccurred())

		server := NewServer(service, uploads, BasicAuth{})
		ghServer = ghttp.NewServer()
		ghServer.RouteToHandler("POST", "/api/receipts", server.ServeHTTP)
		ghServer.RouteToHandler("GET", "/api/cache", server.ServeHTTP)
	})

	AfterEach(func() {
		ghServer.Close()
		Expect(service.Dispose()).To(Succeed())
	})

	upload := func(data []byte) *receipt.OCRResult {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, err := writer.CreateFormFile("file", "receipt.png")
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())

		resp, err := http.Post(ghServer.URL()+"/api/receipts", writer.FormDataContentType(), body)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var result receipt.OCRResult
		Expect(json.NewDecoder(resp.Body).Decode(&result)).To(Succeed())
		return &result
	}

	It("should upload a receipt, scan it and serve repeats from the cache", func() {
		data := pngBytes(200, 300)

		first := upload(data)
		Expect(first.StoreID).To(Equal("pricesmart"))
		Expect(first.Prices).To(ContainElement(And(
			HaveField("ItemName", "Rice 5lb"),
			HaveField("Price", receipt.Money(45000)),
		)))

		second := upload(data)
		Expect(second).To(Equal(first))
		Expect(recognizer.Calls()).To(Equal(1))

		resp, err := http.Get(ghServer.URL() + "/api/cache")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		var size map[string]int
		Expect(json.NewDecoder(resp.Body).Decode(&size)).To(Succeed())
		Expect(size["size"]).To(Equal(1))
	})

	It("should scan different content separately", func() {
		upload(pngBytes(200, 300))
		upload(pngBytes(300, 200))
		Expect(recognizer.Calls()).To(Equal(2))
	})
})
