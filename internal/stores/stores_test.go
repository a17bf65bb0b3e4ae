package stores

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestStores(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Stores Suite")
}

var _ = Describe("Classifier", func() {
	var (
		classifier *Classifier
		header     string
		storeID    string
	)

	BeforeEach(func() {
		classifier = NewClassifier(DefaultRegistry())
	})

	JustBeforeEach(func() {
		storeID = classifier.DetectStore(header)
	})

	When("the header names PriceSmart", func() {
		BeforeEach(func() {
			header = "PRICE SMART\nPORTMORE, ST CATHERINE"
		})

		It("resolves to the PriceSmart profile", func() {
			Expect(storeID).To(Equal("pricesmart"))
		})
	})

	When("the header names Hi-Lo", func() {
		BeforeEach(func() {
			header = "Hi-Lo Food Stores\nLiguanea"
		})

		It("resolves to hilo", func() {
			Expect(storeID).To(Equal("hilo"))
		})
	})

	When("two stores match", func() {
		BeforeEach(func() {
			header = "MEGA MART at PRICESMART plaza"
		})

		It("uses registry order", func() {
			Expect(storeID).To(Equal("pricesmart"))
		})
	})

	When("only a generic keyword matches", func() {
		BeforeEach(func() {
			header = "Corner Supermarket Ltd"
		})

		It("falls back to generic grocery", func() {
			Expect(storeID).To(Equal(GenericGrocery))
		})
	})

	When("nothing matches", func() {
		BeforeEach(func() {
			header = "THANK YOU"
		})

		It("is unknown", func() {
			Expect(storeID).To(Equal(Unknown))
		})
	})

	When("the header is empty", func() {
		BeforeEach(func() {
			header = "   "
		})

		It("is unknown", func() {
			Expect(storeID).To(Equal(Unknown))
		})
	})
})

var _ = Describe("Profile.Match", func() {
	It("extracts name and price from a PriceSmart line", func() {
		p, ok := DefaultRegistry().Get("pricesmart")
		Expect(ok).To(BeTrue())

		name, price, pattern, hit := p.Match("RICE 5LB   450.00")
		Expect(hit).To(BeTrue())
		Expect(name).To(Equal("RICE 5LB"))
		Expect(price).To(Equal("450.00"))
		Expect(pattern).To(Equal("pricesmart#0"))
	})

	It("strips a leading item code", func() {
		p, _ := DefaultRegistry().Get("pricesmart")
		name, price, _, hit := p.Match("123456 KS PAPER TOWEL  2,150.00 E")
		Expect(hit).To(BeTrue())
		Expect(name).To(Equal("KS PAPER TOWEL"))
		Expect(price).To(Equal("2,150.00"))
	})

	It("handles left-side prices at Fontana", func() {
		p, _ := DefaultRegistry().Get("fontana")
		name, price, _, hit := p.Match("$1,250.00 PANADOL EXTRA")
		Expect(hit).To(BeTrue())
		Expect(name).To(Equal("PANADOL EXTRA"))
		Expect(price).To(Equal("1,250.00"))
	})
})

var _ = Describe("HeaderRegion", func() {
	It("covers the top 30 percent", func() {
		r := HeaderRegion(1000, 2000)
		Expect(r.Dx()).To(Equal(1000))
		Expect(r.Dy()).To(Equal(600))
	})
})
