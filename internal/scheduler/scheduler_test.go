package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/pricescan/internal/failure"
	"github.com/zombor/pricescan/internal/imaging"
)

func TestScheduler(t *testing.T) {
	RegisterFailHandler(Fail)
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	RunSpecs(t, "Scheduler Suite")
}

var _ = Describe("Token", func() {
	It("is live until cancelled", func() {
		tok := NewToken(context.Background())
		Expect(tok.Cancelled()).To(BeFalse())
		Expect(tok.Err()).To(BeNil())

		tok.Cancel()
		Expect(tok.Cancelled()).To(BeTrue())
		Expect(failure.CodeOf(tok.Err())).To(Equal(failure.CodeCancelled))
	})

	It("follows its parent context", func() {
		ctx, cancel := context.WithCancel(context.Background())
		tok := NewToken(ctx)
		cancel()
		Eventually(tok.Cancelled).Should(BeTrue())
	})

	It("reports a deadline as a timeout", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
		defer cancel()
		tok := NewToken(ctx)
		Eventually(tok.Done()).Should(BeClosed())
		Expect(failure.CodeOf(tok.Err())).To(Equal(failure.CodeTimeout))
	})

	It("runs cancel callbacks", func() {
		tok := NewToken(context.Background())
		called := make(chan struct{})
		tok.OnCancel(func() { close(called) })
		tok.Cancel()
		Eventually(called).Should(BeClosed())
	})

	It("names the stage in checks", func() {
		tok := NewToken(context.Background())
		Expect(tok.Check("after normalize")).To(Succeed())
		tok.Cancel()
		Expect(tok.Check("after normalize").Error()).To(ContainSubstring("after normalize"))
	})
})

var _ = Describe("Slots", func() {
	var (
		slots *Slots
		ctx   context.Context
	)

	BeforeEach(func() {
		slots = NewSlots(2)
		ctx = context.Background()
	})

	It("defaults to two slots", func() {
		Expect(NewSlots(0).Capacity()).To(Equal(DefaultSlots))
	})

	It("never runs more tasks than slots", func() {
		var (
			running, peak atomic.Int32
			wg            sync.WaitGroup
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				release, err := slots.Acquire(ctx, PriorityNormal, nil)
				Expect(err).NotTo(HaveOccurred())
				defer release()

				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				running.Add(-1)
			}()
		}
		wg.Wait()
		Expect(peak.Load()).To(BeNumerically("<=", 2))
		Expect(slots.InFlight()).To(Equal(0))
	})

	It("admits waiters in FIFO order", func() {
		r1, _ := slots.Acquire(ctx, PriorityNormal, nil)
		r2, _ := slots.Acquire(ctx, PriorityNormal, nil)

		order := make(chan int, 3)
		for i := 1; i <= 3; i++ {
			go func() {
				release, err := slots.Acquire(ctx, PriorityNormal, nil)
				if err == nil {
					order <- i
					release()
				}
			}()
			Eventually(slots.Waiting).Should(Equal(i))
		}

		r1()
		Expect(<-order).To(Equal(1))
		Expect(<-order).To(Equal(2))
		Expect(<-order).To(Equal(3))
		r2()
	})

	It("puts high priority waiters first", func() {
		r1, _ := slots.Acquire(ctx, PriorityNormal, nil)
		r2, _ := slots.Acquire(ctx, PriorityNormal, nil)

		order := make(chan Priority, 2)
		go func() {
			release, _ := slots.Acquire(ctx, PriorityNormal, nil)
			order <- PriorityNormal
			release()
		}()
		Eventually(slots.Waiting).Should(Equal(1))
		go func() {
			release, _ := slots.Acquire(ctx, PriorityHigh, nil)
			order <- PriorityHigh
			time.Sleep(5 * time.Millisecond)
			release()
		}()
		Eventually(slots.Waiting).Should(Equal(2))

		r1()
		Expect(<-order).To(Equal(PriorityHigh))
		r2()
		Expect(<-order).To(Equal(PriorityNormal))
	})

	It("preempts an in-flight low priority task for a high priority one", func() {
		lowTok := NewToken(ctx)
		releaseLow, err := slots.Acquire(ctx, PriorityLow, lowTok)
		Expect(err).NotTo(HaveOccurred())
		releaseNormal, err := slots.Acquire(ctx, PriorityNormal, nil)
		Expect(err).NotTo(HaveOccurred())
		defer releaseNormal()

		// the low task releases its slot once it observes cancellation
		lowTok.OnCancel(releaseLow)

		release, err := slots.Acquire(ctx, PriorityHigh, nil)
		Expect(err).NotTo(HaveOccurred())
		defer release()

		Expect(lowTok.Cancelled()).To(BeTrue())
		Expect(errors.Is(context.Cause(lowTok.Context()), ErrPreempted)).To(BeTrue())
	})

	It("gives up when the context ends", func() {
		r1, _ := slots.Acquire(ctx, PriorityNormal, nil)
		r2, _ := slots.Acquire(ctx, PriorityNormal, nil)
		defer r1()
		defer r2()

		short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		_, err := slots.Acquire(short, PriorityNormal, nil)
		Expect(failure.CodeOf(err)).To(Equal(failure.CodeTimeout))
		Expect(slots.Waiting()).To(Equal(0))
	})

	It("cancels everything on CancelAll", func() {
		t1, t2, t3 := NewToken(ctx), NewToken(ctx), NewToken(ctx)
		r1, _ := slots.Acquire(ctx, PriorityNormal, t1)
		r2, _ := slots.Acquire(ctx, PriorityNormal, t2)
		defer r1()
		defer r2()

		errs := make(chan error, 1)
		go func() {
			_, err := slots.Acquire(ctx, PriorityNormal, t3)
			errs <- err
		}()
		Eventually(slots.Waiting).Should(Equal(1))

		Expect(slots.CancelAll()).To(Equal(3))
		Expect(t1.Cancelled()).To(BeTrue())
		Expect(t2.Cancelled()).To(BeTrue())
		Expect(failure.CodeOf(<-errs)).To(Equal(failure.CodeCancelled))
	})

	It("tolerates double release", func() {
		release, _ := slots.Acquire(ctx, PriorityNormal, nil)
		release()
		release()
		Expect(slots.InFlight()).To(Equal(0))
	})
})

var _ = Describe("SelectTier", func() {
	DescribeTable("tiers",
		func(task Task, snap Snapshot, canOffload bool, expected Tier) {
			Expect(SelectTier(task, snap, canOffload)).To(Equal(expected))
		},
		Entry("small image", Task{ByteSize: 1 << 20}, Idle, true, TierStandard),
		Entry("medium image", Task{ByteSize: 3 << 20}, Idle, true, TierIntensive),
		Entry("large image", Task{ByteSize: 6 << 20}, Idle, true, TierOffloaded),
		Entry("large image without pool", Task{ByteSize: 6 << 20}, Idle, false, TierIntensive),
		Entry("multi-section", Task{ByteSize: 1 << 20, MultiSection: true}, Idle, true, TierOffloaded),
		Entry("hot device", Task{ByteSize: 6 << 20}, Snapshot{BatteryLevel: 1, Thermal: ThermalSerious}, true, TierLightweight),
		Entry("low battery", Task{ByteSize: 1 << 20}, Snapshot{BatteryLevel: 0.1}, true, TierLightweight),
		Entry("memory pressure", Task{ByteSize: 1 << 20}, Snapshot{BatteryLevel: 1, MemoryUsage: 0.9}, true, TierLightweight),
	)

	It("maps tiers to plans", func() {
		Expect(TierLightweight.Plan()).To(Equal(imaging.PlanLightweight))
		Expect(TierStandard.Plan()).To(Equal(imaging.PlanStandard))
		Expect(TierOffloaded.Plan()).To(Equal(imaging.PlanIntensive))
	})
})

var _ = Describe("RuntimePressure", func() {
	It("reports fractions", func() {
		snap, err := NewRuntimePressure(1 << 30).Snapshot(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(snap.MemoryUsage).To(BeNumerically(">=", 0))
		Expect(snap.MemoryUsage).To(BeNumerically("<=", 1))
		Expect(snap.BatteryLevel).To(Equal(1.0))
		Expect(snap.Thermal).To(Equal(ThermalNominal))
	})
})

var _ = Describe("Pool", func() {
	var pool *Pool

	BeforeEach(func() {
		pool = NewPool(1)
	})

	AfterEach(func() {
		pool.Close()
	})

	It("returns the job result", func() {
		v, err := Run(context.Background(), pool, nil, func(context.Context) (int, error) {
			return 42, nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(42))
		Expect(pool.Completed()).To(Equal(int64(1)))
	})

	It("terminates a cancelled worker and replaces it", func() {
		tok := NewToken(context.Background())
		block := make(chan struct{})
		defer close(block)

		errs := make(chan error, 1)
		go func() {
			_, err := Run(context.Background(), pool, tok, func(context.Context) (int, error) {
				<-block
				return 1, nil
			})
			errs <- err
		}()

		time.Sleep(5 * time.Millisecond)
		tok.Cancel()
		Expect(failure.CodeOf(<-errs)).To(Equal(failure.CodeCancelled))
		Expect(pool.Terminated()).To(Equal(int64(1)))

		v, err := Run(context.Background(), pool, nil, func(context.Context) (int, error) {
			return 7, nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(7))
	})

	It("turns a panic into a processing failure", func() {
		_, err := Run(context.Background(), pool, nil, func(context.Context) (int, error) {
			panic("boom")
		})
		Expect(failure.CodeOf(err)).To(Equal(failure.CodeProcessingFailed))
	})

	It("rejects work after Close", func() {
		pool.Close()
		_, err := Run(context.Background(), pool, nil, func(context.Context) (int, error) {
			return 1, nil
		})
		Expect(failure.CodeOf(err)).To(Equal(failure.CodeServiceUnavailable))
	})
})

var _ = Describe("ParsePriority", func() {
	It("parses names", func() {
		p, err := ParsePriority("high")
		Expect(err).NotTo(HaveOccurred())
		Expect(p).To(Equal(PriorityHigh))
		_, err = ParsePriority("urgent")
		Expect(err).To(HaveOccurred())
	})

	It("treats the zero value as normal", func() {
		var p Priority
		Expect(p).To(Equal(PriorityNormal))
		Expect(p.String()).To(Equal("normal"))

		parsed, err := ParsePriority("")
		Expect(err).NotTo(HaveOccurred())
		Expect(parsed).To(Equal(p))
	})
})
