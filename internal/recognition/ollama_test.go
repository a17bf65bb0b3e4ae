package recognition

import (
	"context"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Ollama", func() {
	var (
		server *ghttp.Server
		engine *Ollama
		text   *Text
		err    error
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		engine, err = NewOllama(server.URL(), "qwen2-vl")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		text, err = engine.Recognize(context.Background(), []byte("png-bytes"), Metadata{Width: 600, Height: 200, Format: "png"})
	})

	When("the model answers with a transcript", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
				ghttp.VerifyContentType("application/json"),
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
					"done": true,
					"message": map[string]any{
						"role":    "assistant",
						"content": `{"lines": [{"text": "HI-LO", "confidence": 0.8}, {"text": "SUGAR 2KG 380.00", "confidence": 0.7}]}`,
					},
				}),
			))
		})

		It("returns the parsed lines", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(text.Lines()).To(HaveLen(2))
			Expect(text.Lines()[1].Text).To(Equal("SUGAR 2KG 380.00"))
		})
	})

	When("the API fails", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusServiceUnavailable, "model unavailable"))
		})

		It("returns an error carrying the status", func() {
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("status 503"))
		})
	})
})
