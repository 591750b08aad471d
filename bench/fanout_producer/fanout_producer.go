package main

import (
	"context"
	"flag"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	appkafka "example.com/twissandra/internal/broker"
	"example.com/twissandra/internal/feed"
	"example.com/twissandra/internal/models"
	"github.com/gocql/gocql"
	"github.com/segmentio/kafka-go"
)

// Publishes synthetic fan-out jobs to measure worker throughput. The jobs
// reference tweets that were never saved, so point the worker at a
// throwaway keyspace: timelines it writes will fail integrity checks on read.
func main() {
	var broker, topic string
	var total, batchSize, numWorkers, authors int

	flag.StringVar(&broker, "broker", "localhost:29092", "Kafka broker")
	flag.StringVar(&topic, "topic", "fanout-jobs", "fan-out topic")
	flag.IntVar(&total, "n", 100000, "total number of jobs to send")
	flag.IntVar(&batchSize, "batch", 100, "messages per write")
	flag.IntVar(&numWorkers, "c", 4, "number of parallel producers")
	flag.IntVar(&authors, "authors", 100, "distinct authors to spread jobs over")
	flag.Parse()

	// Same author-hashed writer the server publishes with
	w, err := appkafka.NewKafkaWriter(appkafka.KafkaConfig{
		Brokers: []string{broker},
		Topic:   topic,
	})
	if err != nil {
		fmt.Printf("writer init error: %v\n", err)
		return
	}
	defer w.Close()

	start := time.Now()
	var successCount, failCount uint64

	jobs := make(chan int, total)
	var wg sync.WaitGroup

	flush := func(batch []kafka.Message) {
		if err := w.WriteMessages(context.Background(), batch...); err != nil {
			atomic.AddUint64(&failCount, uint64(len(batch)))
			fmt.Printf("write error: %v\n", err)
			return
		}
		atomic.AddUint64(&successCount, uint64(len(batch)))
	}

	for wID := 0; wID < numWorkers; wID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			batch := make([]kafka.Message, 0, batchSize)

			for i := range jobs {
				job := models.FanoutJob{
					TweetID: gocql.TimeUUID(),
					Author:  fmt.Sprintf("bench-author-%d", i%authors),
				}
				v, err := feed.EncodeJob(job)
				if err != nil {
					atomic.AddUint64(&failCount, 1)
					continue
				}

				// Keyed by author so one author's jobs stay ordered on a partition
				batch = append(batch, kafka.Message{
					Key:     []byte(job.Author),
					Value:   v,
					Headers: []kafka.Header{{Key: "type", Value: []byte(feed.JobKey)}},
				})
				if len(batch) >= batchSize {
					flush(batch)
					batch = batch[:0]
				}
			}
			if len(batch) > 0 {
				flush(batch)
			}
		}()
	}

	for i := 0; i < total; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	// --- Benchmark results ---
	elapsed := time.Since(start)
	fmt.Printf("Total jobs: %d\n", total)
	fmt.Printf("Successful: %d, Failed: %d\n", successCount, failCount)
	fmt.Printf("Elapsed time: %s\n", elapsed)
	fmt.Printf("Throughput: %.2f msg/s\n", float64(successCount)/elapsed.Seconds())
}
