package extraction

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/pricescan/internal/receipt"
	"github.com/zombor/pricescan/internal/recognition"
	"github.com/zombor/pricescan/internal/stores"
)

func TestExtraction(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Extraction Suite")
}

func candidate(price receipt.Money, x, y, confidence float64) receipt.ExtractedPrice {
	return receipt.ExtractedPrice{
		ItemName:   "ITEM",
		Price:      price,
		Confidence: confidence,
		Position:   recognition.Rect{X: x, Y: y},
	}
}

var _ = Describe("IsNonProductLine", func() {
	DescribeTable("classification",
		func(line string, expected bool) {
			Expect(IsNonProductLine(line)).To(Equal(expected))
		},
		Entry("total", "TOTAL 1200.00", true),
		Entry("subtotal", "SUB-TOTAL 980.00", true),
		Entry("tax", "GCT 15% 120.00", true),
		Entry("cashier", "Cashier: Marcia", true),
		Entry("date", "12/03/2024", true),
		Entry("time", "Time 14:22", true),
		Entry("pure numbers", "0001 2345 678", true),
		Entry("fragment", "ab", true),
		Entry("product", "RICE 5LB   450.00", false),
		Entry("product with code", "123456 KS PAPER TOWEL  2,150.00 E", false),
	)
})

var _ = Describe("PatternConfidence", func() {
	It("caps a store-specific multi-word match at 1", func() {
		Expect(PatternConfidence("RICE 5LB", "450.00", "RICE 5LB   450.00", true)).To(Equal(1.0))
	})

	It("starts at the base score", func() {
		Expect(PatternConfidence("X", "4,5", "TOTAL", false)).To(BeNumerically("~", 0.6, 1e-9))
	})
})

var _ = Describe("Strategies", func() {
	var (
		registry *stores.Registry
		text     *recognition.Text
	)

	BeforeEach(func() {
		registry = stores.DefaultRegistry()
	})

	When("the line is a total", func() {
		BeforeEach(func() {
			text = recognition.FromLines([]string{"TOTAL 1200.00"}, 20, 400)
		})

		It("is skipped by every strategy", func() {
			strategies := []Strategy{NewStorePattern(registry), NewGenericPattern(registry), LineTail{}, Spatial{}}
			for _, s := range strategies {
				Expect(s.Extract(text, "pricesmart")).To(BeEmpty(), string(s.Method()))
			}
		})
	})

	When("a PriceSmart line is read", func() {
		BeforeEach(func() {
			text = recognition.FromLines([]string{"PRICESMART", "RICE 5LB   450.00"}, 20, 400)
		})

		It("extracts a store-pattern candidate with full confidence", func() {
			out := NewStorePattern(registry).Extract(text, "pricesmart")
			Expect(out).To(HaveLen(1))
			Expect(out[0].ItemName).To(Equal("RICE 5LB"))
			Expect(out[0].Price).To(Equal(receipt.Money(45000)))
			Expect(out[0].Confidence).To(Equal(1.0))
			Expect(out[0].Method).To(Equal(receipt.MethodStorePattern))
			Expect(out[0].PatternID).To(Equal("pricesmart#0"))
			Expect(out[0].SourceLine).To(Equal("RICE 5LB   450.00"))
		})

		It("leaves the line to the store pattern in the generic pass", func() {
			Expect(NewGenericPattern(registry).Extract(text, "pricesmart")).To(BeEmpty())
		})
	})

	When("the store is unknown", func() {
		BeforeEach(func() {
			text = recognition.FromLines([]string{"BREAD LOAF 350.00"}, 20, 400)
		})

		It("produces nothing from the store pattern", func() {
			Expect(NewStorePattern(registry).Extract(text, stores.Unknown)).To(BeEmpty())
		})

		It("falls back to the generic pattern", func() {
			out := NewGenericPattern(registry).Extract(text, stores.Unknown)
			Expect(out).To(HaveLen(1))
			Expect(out[0].ItemName).To(Equal("BREAD LOAF"))
			Expect(out[0].Price).To(Equal(receipt.Money(35000)))
		})
	})

	It("reads the line tail after an item code", func() {
		text = recognition.FromLines([]string{"556677 MILK 1L 289.99"}, 20, 400)
		out := LineTail{}.Extract(text, stores.Unknown)
		Expect(out).To(HaveLen(1))
		Expect(out[0].ItemName).To(Equal("MILK 1L"))
		Expect(out[0].Price).To(Equal(receipt.Money(28999)))
	})

	It("finds every price token spatially", func() {
		text = recognition.FromLines([]string{"JUICE 2 @ 150.00 300.00"}, 20, 400)
		out := Spatial{}.Extract(text, stores.Unknown)
		Expect(out).To(HaveLen(2))
		Expect(out[0].Price).To(Equal(receipt.Money(15000)))
		Expect(out[1].Price).To(Equal(receipt.Money(30000)))
		Expect(out[0].Position).To(Equal(text.Lines()[0].Bounds))
	})

	It("rejects prices at or above the upper bound", func() {
		text = recognition.FromLines([]string{"YACHT 1000000.00"}, 20, 400)
		Expect(LineTail{}.Extract(text, stores.Unknown)).To(BeEmpty())
	})

	It("keeps every confidence within [0,1]", func() {
		text = recognition.FromLines([]string{"RICE 5LB   450.00", "SUGAR 2KG 310.50", "EGGS 12 CT 540.00"}, 20, 400)
		all, _, err := NewExtractor(registry).Extract(context.Background(), text, "pricesmart")
		Expect(err).NotTo(HaveOccurred())
		for _, c := range all {
			Expect(c.Confidence).To(BeNumerically(">=", 0))
			Expect(c.Confidence).To(BeNumerically("<=", 1))
		}
	})
})

var _ = Describe("Extractor", func() {
	It("concatenates candidates in precedence order and counts per method", func() {
		text := recognition.FromLines([]string{"RICE 5LB   450.00"}, 20, 400)
		all, counts, err := NewExtractor(stores.DefaultRegistry()).Extract(context.Background(), text, "pricesmart")
		Expect(err).NotTo(HaveOccurred())
		Expect(all).NotTo(BeEmpty())
		Expect(all[0].Method).To(Equal(receipt.MethodStorePattern))
		Expect(counts[receipt.MethodStorePattern]).To(Equal(1))
		Expect(counts[receipt.MethodGenericPattern]).To(Equal(0))
		Expect(counts[receipt.MethodLineTail]).To(Equal(1))
		Expect(counts[receipt.MethodSpatial]).To(Equal(1))
	})

	It("stops on a cancelled context", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		text := recognition.FromLines([]string{"RICE 5LB   450.00"}, 20, 400)
		_, _, err := NewExtractor(stores.DefaultRegistry()).Extract(ctx, text, "pricesmart")
		Expect(err).To(MatchError(context.Canceled))
	})
})

var _ = Describe("Merge", func() {
	It("fuses two candidates at the same price and nearby positions", func() {
		out := Merge([]receipt.ExtractedPrice{
			candidate(9900, 10, 10, 0.7),
			candidate(9900, 12, 11, 0.9),
		})
		Expect(out).To(HaveLen(1))
		Expect(out[0].Confidence).To(Equal(0.9))
	})

	It("keeps the earlier candidate on equal confidence", func() {
		a := candidate(9900, 10, 10, 0.8)
		a.Method = receipt.MethodStorePattern
		b := candidate(9900, 400, 400, 0.8)
		b.Method = receipt.MethodSpatial
		out := Merge([]receipt.ExtractedPrice{a, b})
		Expect(out).To(HaveLen(1))
		Expect(out[0].Method).To(Equal(receipt.MethodStorePattern))
	})

	It("fuses different prices at nearby positions", func() {
		out := Merge([]receipt.ExtractedPrice{
			candidate(9900, 10, 10, 0.8),
			candidate(15000, 30, 20, 0.6),
		})
		Expect(out).To(HaveLen(1))
		Expect(out[0].Price).To(Equal(receipt.Money(9900)))
	})

	It("keeps distinct items and orders them by confidence", func() {
		out := Merge([]receipt.ExtractedPrice{
			candidate(9900, 10, 10, 0.6),
			candidate(15000, 10, 200, 0.9),
		})
		Expect(out).To(HaveLen(2))
		Expect(out[0].Price).To(Equal(receipt.Money(15000)))
		for i := range out {
			for j := i + 1; j < len(out); j++ {
				Expect(Similar(out[i], out[j])).To(BeFalse())
			}
		}
	})

	It("returns an empty list for no candidates", func() {
		Expect(Merge(nil)).To(BeEmpty())
	})
})

var _ = Describe("OverallConfidence", func() {
	It("defaults engine confidence to 0.8", func() {
		text := &recognition.Text{}
		prices := []receipt.ExtractedPrice{candidate(100, 0, 0, 1.0)}
		Expect(OverallConfidence(prices, text)).To(BeNumerically("~", 0.7+0.24, 1e-9))
	})

	It("uses element confidences when reported", func() {
		text := &recognition.Text{Blocks: []recognition.Block{{
			Lines: []recognition.Line{{
				Elements: []recognition.Element{
					{Text: "A", Confidence: recognition.Float(0.5)},
					{Text: "B", Confidence: recognition.Float(1.0)},
				},
			}},
		}}}
		prices := []receipt.ExtractedPrice{candidate(100, 0, 0, 0.5)}
		Expect(OverallConfidence(prices, text)).To(BeNumerically("~", 0.35+0.225, 1e-9))
	})

	It("scores only the engine when no prices survive", func() {
		Expect(OverallConfidence(nil, &recognition.Text{})).To(BeNumerically("~", 0.24, 1e-9))
	})
})
