package failure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestFailure(t *testing.T) {
	// Disable logging during tests
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))

	RegisterFailHandler(Fail)
	RunSpecs(t, "Failure Suite")
}

var _ = Describe("Classify", func() {
	var (
		input error
		out   *Error
	)

	JustBeforeEach(func() {
		out = Classify(input)
	})

	When("the error is nil", func() {
		BeforeEach(func() {
			input = nil
		})

		It("returns nil", func() {
			Expect(out).To(BeNil())
		})
	})

	When("the error is already typed", func() {
		BeforeEach(func() {
			input = fmt.Errorf("loading: %w", New(CodeCorrupted, "bad jpeg"))
		})

		It("keeps the original code", func() {
			Expect(out.Code).To(Equal(CodeCorrupted))
			Expect(out.Kind).To(Equal(KindImage))
		})
	})

	When("the context deadline passed", func() {
		BeforeEach(func() {
			input = fmt.Errorf("recognize: %w", context.DeadlineExceeded)
		})

		It("is a retryable timeout", func() {
			Expect(out.Code).To(Equal(CodeTimeout))
			Expect(out.Retryable()).To(BeTrue())
		})
	})

	When("the context was cancelled", func() {
		BeforeEach(func() {
			input = context.Canceled
		})

		It("is a non-retryable cancellation", func() {
			Expect(out.Code).To(Equal(CodeCancelled))
			Expect(out.Retryable()).To(BeFalse())
		})
	})

	When("the file does not exist", func() {
		BeforeEach(func() {
			input = &fs.PathError{Op: "open", Path: "/nope.jpg", Err: fs.ErrNotExist}
		})

		It("is a fatal not-found", func() {
			Expect(out.Code).To(Equal(CodeNotFound))
			Expect(out.Retryable()).To(BeFalse())
		})
	})

	When("permission is denied", func() {
		BeforeEach(func() {
			input = &fs.PathError{Op: "open", Path: "/root.jpg", Err: fs.ErrPermission}
		})

		It("is fatal", func() {
			Expect(out.Code).To(Equal(CodePermissionDenied))
			Expect(out.Retryable()).To(BeFalse())
		})
	})

	When("the message reports an unavailable service", func() {
		BeforeEach(func() {
			input = errors.New("ollama API error (status 503): model unavailable")
		})

		It("is a retryable service unavailable", func() {
			Expect(out.Code).To(Equal(CodeServiceUnavailable))
			Expect(out.Retryable()).To(BeTrue())
		})
	})

	When("nothing matches", func() {
		BeforeEach(func() {
			input = errors.New("something odd")
		})

		It("is unknown", func() {
			Expect(out.Code).To(Equal(CodeUnknown))
			Expect(out.Kind).To(Equal(KindUnknown))
		})
	})
})

var _ = Describe("Error", func() {
	It("matches by code with errors.Is", func() {
		err := fmt.Errorf("wrapped: %w", New(CodeInsufficientSections, "no sections"))
		Expect(errors.Is(err, New(CodeInsufficientSections, ""))).To(BeTrue())
		Expect(errors.Is(err, New(CodeSectionFailed, ""))).To(BeFalse())
	})

	It("offers alternate capture for low quality images", func() {
		Expect(New(CodeLowQuality, "").Suggestions()).To(ContainElement(ActionAlternateCapture))
	})

	It("offers a retry for timeouts", func() {
		Expect(New(CodeTimeout, "").Suggestions()).To(ContainElement(ActionRetry))
	})

	It("marks storage exhaustion as fatal", func() {
		Expect(New(CodeStorageInsufficient, "").Retryable()).To(BeFalse())
	})
})

var _ = Describe("Retryer", func() {
	var (
		retryer  *Retryer
		calls    int
		delays   []time.Duration
		released int
		seen     []Hints
		result   error
		failWith func(attempt int) error
	)

	BeforeEach(func() {
		calls = 0
		delays = nil
		released = 0
		seen = nil
		retryer = NewRetryer(3, 10*time.Millisecond)
		retryer.Sleep = func(_ context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		}
		retryer.ReleaseMemory = func() { released++ }
	})

	JustBeforeEach(func() {
		result = retryer.Do(context.Background(), func(_ context.Context, attempt int, hints *Hints) error {
			calls++
			seen = append(seen, *hints)
			return failWith(attempt)
		})
	})

	When("every failure is retryable", func() {
		BeforeEach(func() {
			failWith = func(int) error { return New(CodeServiceUnavailable, "down") }
		})

		It("attempts exactly MaxAttempts times", func() {
			Expect(calls).To(Equal(3))
		})

		It("waits baseDelay times the attempt number", func() {
			Expect(delays).To(Equal([]time.Duration{10 * time.Millisecond, 20 * time.Millisecond}))
		})

		It("returns the last typed error with the attempt count", func() {
			var fe *Error
			Expect(errors.As(result, &fe)).To(BeTrue())
			Expect(fe.Code).To(Equal(CodeServiceUnavailable))
			Expect(fe.Attempts).To(Equal(3))
		})
	})

	When("the failure is fatal", func() {
		BeforeEach(func() {
			failWith = func(int) error { return New(CodeCorrupted, "bad file") }
		})

		It("attempts exactly once", func() {
			Expect(calls).To(Equal(1))
			Expect(delays).To(BeEmpty())
		})
	})

	When("the second attempt succeeds", func() {
		BeforeEach(func() {
			failWith = func(attempt int) error {
				if attempt == 1 {
					return context.DeadlineExceeded
				}
				return nil
			}
		})

		It("returns nil", func() {
			Expect(result).NotTo(HaveOccurred())
			Expect(calls).To(Equal(2))
		})
	})

	When("memory runs low", func() {
		BeforeEach(func() {
			failWith = func(attempt int) error {
				if attempt == 1 {
					return New(CodeLowMemory, "oom")
				}
				return nil
			}
		})

		It("requests memory relief before retrying", func() {
			Expect(released).To(Equal(1))
			Expect(seen[1].LowMemory).To(BeTrue())
		})
	})

	When("the image is too large", func() {
		BeforeEach(func() {
			failWith = func(attempt int) error {
				if attempt == 1 {
					return New(CodeTooLarge, "12MB")
				}
				return nil
			}
		})

		It("shrinks the target resolution and allows downscaling", func() {
			Expect(seen[0].MaxDimension).To(Equal(DefaultMaxDimension))
			Expect(seen[1].MaxDimension).To(Equal(DefaultMaxDimension / 2))
			Expect(seen[1].AllowDownscale).To(BeTrue())
		})
	})
})
