package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	appkafka "example.com/twissandra/internal/broker"
	"example.com/twissandra/internal/models"
	"github.com/gocql/gocql"
	"github.com/segmentio/kafka-go"
)

// JobKey tags fan-out messages on the topic.
const JobKey = "fanout"

// QueueDispatcher publishes fan-out jobs to Kafka for the worker to deliver.
// If publishing fails and Fallback is set, the job is delivered inline.
// A published job yields a Deferred report with no Failures.
type QueueDispatcher struct {
	Writer   appkafka.KafkaWriter
	Fallback Dispatcher
}

func (q *QueueDispatcher) Dispatch(ctx context.Context, job models.FanoutJob) (Report, error) {
	data, err := EncodeJob(job)
	if err != nil {
		return Report{}, err
	}

	msg := kafka.Message{
		Key:   []byte(job.Author),
		Value: data,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(JobKey)},
		},
	}
	if err := q.Writer.WriteMessages(ctx, msg); err != nil {
		if q.Fallback == nil {
			return Report{}, fmt.Errorf("publish fan-out job: %w", err)
		}
		logg.Warn("feed", "Kafka publish failed, delivering fan-out inline", err)
		return q.Fallback.Dispatch(ctx, job)
	}
	return Report{Deferred: true}, nil
}

// EncodeJob marshals a job for the topic.
func EncodeJob(job models.FanoutJob) ([]byte, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("encode fan-out job: %w", err)
	}
	return data, nil
}

// DecodeJob parses and validates a job read from the topic.
func DecodeJob(data []byte) (models.FanoutJob, error) {
	var job models.FanoutJob
	if err := json.Unmarshal(data, &job); err != nil {
		return models.FanoutJob{}, fmt.Errorf("decode fan-out job: %w", err)
	}
	if job.TweetID == (gocql.UUID{}) || job.Author == "" {
		return models.FanoutJob{}, errors.New("decode fan-out job: missing tweet id or author")
	}
	return job, nil
}
