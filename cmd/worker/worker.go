package worker

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	appkafka "example.com/twissandra/internal/broker"
	"example.com/twissandra/internal/feed"
	"example.com/twissandra/internal/logger"
	"example.com/twissandra/internal/models"
)

var logg = logger.New()

// Deliverer performs the follower fan-out for one job.
type Deliverer interface {
	Deliver(ctx context.Context, job models.FanoutJob) (feed.Report, error)
}

// Worker consumes fan-out jobs from Kafka and writes follower timelines concurrently.
type Worker struct {
	deliverer    Deliverer
	reader       appkafka.KafkaReader
	workerCount  int
	jobQueueSize int

	// DrainTimeout bounds how long queued jobs keep being delivered after
	// Run's context is canceled. Offsets are already committed by then.
	DrainTimeout time.Duration
}

// DefaultDrainTimeout is used when DrainTimeout is not positive.
const DefaultDrainTimeout = 30 * time.Second

// New creates a new concurrent Worker using pre-initialized dependencies.
func New(deliverer Deliverer, reader appkafka.KafkaReader, workerCount, jobQueueSize int) *Worker {
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	if jobQueueSize <= 0 {
		jobQueueSize = workerCount * 10
	}
	return &Worker{
		deliverer:    deliverer,
		reader:       reader,
		workerCount:  workerCount,
		jobQueueSize: jobQueueSize,
	}
}

// Run starts message reading and concurrent processing. Once ctx is canceled
// it stops reading and returns after every job already taken off Kafka has
// been delivered, or DrainTimeout has passed.
func (w *Worker) Run(ctx context.Context) {
	if w.workerCount <= 0 {
		w.workerCount = 1
	}
	if w.jobQueueSize <= 0 {
		w.jobQueueSize = 10
	}
	drain := w.DrainTimeout
	if drain <= 0 {
		drain = DefaultDrainTimeout
	}

	logg.Info("worker", "Starting "+fmt.Sprint(w.workerCount)+" workers with queue size "+fmt.Sprint(w.jobQueueSize))

	// Deliveries outlive ctx so a shutdown does not fail every queued job.
	deliverCtx, cancelDeliver := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelDeliver()

	jobs := make(chan []byte, w.jobQueueSize)
	var wg sync.WaitGroup

	for i := 0; i < w.workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.processLoop(deliverCtx, jobs)
		}()
	}

	w.readLoop(ctx, jobs)
	close(jobs)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logg.Info("worker", "All workers stopped gracefully")
	case <-time.After(drain):
		logg.Warn("worker", "Drain timeout reached, abandoning queued fan-out jobs", nil)
		cancelDeliver()
		<-done
	}
}

// readLoop reads Kafka messages and pushes them into a job queue.
func (w *Worker) readLoop(ctx context.Context, jobs chan<- []byte) {
	var retry int
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := w.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			backoff := time.Duration(math.Min(1000, math.Pow(2, float64(retry)))) * time.Millisecond
			logg.Error("worker", "Kafka read error, backing off", err)
			if !waitWithContext(ctx, backoff) {
				return
			}
			retry++
			continue
		}
		retry = 0

		if len(msg.Value) == 0 {
			if !waitWithContext(ctx, 50*time.Millisecond) {
				return
			}
			continue
		}

		// The offset is committed once read, so the job is queued even if
		// ctx is canceled meanwhile; workers drain it on their own context.
		jobs <- msg.Value
	}
}

// processLoop decodes jobs and runs the fan-out for each.
func (w *Worker) processLoop(ctx context.Context, jobs <-chan []byte) {
	for data := range jobs {
		if err := w.handle(ctx, data); err != nil {
			logg.Error("worker", "Fan-out job failed", err)
		}
	}
}

// handle processes one raw message. Malformed jobs are dropped with an error;
// partial deliveries are logged and not retried here.
func (w *Worker) handle(ctx context.Context, data []byte) error {
	job, err := feed.DecodeJob(data)
	if err != nil {
		return err
	}

	report, err := w.deliverer.Deliver(ctx, job)
	if err != nil {
		return err
	}
	if len(report.Failures) > 0 {
		logg.Warn("worker", fmt.Sprintf("Tweet missing from %d of %d timelines", len(report.Failures), report.Delivered+len(report.Failures)), report.Failures[0])
		return nil
	}
	logg.Info("worker", fmt.Sprintf("Tweet delivered to %d timelines (IDs anonymized)", report.Delivered))
	return nil
}

// waitWithContext waits for duration or context cancellation.
func waitWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Close shuts down the Kafka reader.
func (w *Worker) Close() error {
	logg.Info("worker", "Closing Kafka reader")
	if err := w.reader.Close(); err != nil {
		logg.Error("worker", "Error closing Kafka reader", err)
		return err
	}
	return nil
}
