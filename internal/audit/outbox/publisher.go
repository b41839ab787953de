// Package outbox drains the transactional outbox into Kafka. Audit events are
// written to the outbox table inside the decision transaction; this publisher
// moves them onto the stream afterwards, giving at-least-once delivery without
// ever publishing an event whose audit row did not commit.
package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

const batchSize = 100

// Publisher polls unpublished outbox rows and produces them to a topic.
type Publisher struct {
	db       *sql.DB
	client   *kgo.Client
	topic    string
	interval time.Duration
	logger   *slog.Logger
}

// New connects to the brokers and makes sure the topic exists.
func New(ctx context.Context, brokers []string, topic string, interval time.Duration, db *sql.DB, logger *slog.Logger) (*Publisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	if err := ensureTopic(ctx, client, topic); err != nil {
		client.Close()
		return nil, err
	}
	return &Publisher{
		db:       db,
		client:   client,
		topic:    topic,
		interval: interval,
		logger:   logger,
	}, nil
}

func ensureTopic(ctx context.Context, client *kgo.Client, topic string) error {
	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopics(ctx, 1, 1, nil, topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	for _, res := range resp {
		if res.Err != nil && !errors.Is(res.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", res.Topic, res.Err)
		}
	}
	return nil
}

// Run polls until the context is canceled.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.Drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
				p.logger.ErrorContext(ctx, "outbox drain failed", "error", err)
			}
		}
	}
}

// Drain publishes every currently unpublished row, oldest first. Rows are
// marked published only after the broker acknowledges, so a crash in between
// republishes; consumers must dedupe on the event id.
func (p *Publisher) Drain(ctx context.Context) error {
	for {
		n, err := p.drainBatch(ctx)
		if err != nil {
			return err
		}
		if n < batchSize {
			return nil
		}
	}
}

type outboxRow struct {
	id        uuid.UUID
	eventType string
	payload   []byte
}

func (p *Publisher) drainBatch(ctx context.Context) (int, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, event_type, payload
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1
	`, batchSize)
	if err != nil {
		return 0, fmt.Errorf("select outbox rows: %w", err)
	}
	defer rows.Close()

	var batch []outboxRow
	for rows.Next() {
		var r outboxRow
		if err := rows.Scan(&r.id, &r.eventType, &r.payload); err != nil {
			return 0, fmt.Errorf("scan outbox row: %w", err)
		}
		batch = append(batch, r)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate outbox rows: %w", err)
	}
	if len(batch) == 0 {
		return 0, nil
	}

	records := make([]*kgo.Record, 0, len(batch))
	for _, r := range batch {
		records = append(records, &kgo.Record{
			Topic: p.topic,
			Key:   []byte(r.id.String()),
			Value: r.payload,
			Headers: []kgo.RecordHeader{
				{Key: "event_type", Value: []byte(r.eventType)},
			},
		})
	}
	if err := p.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return 0, fmt.Errorf("produce outbox batch: %w", err)
	}

	now := time.Now().UTC()
	for _, r := range batch {
		if _, err := p.db.ExecContext(ctx,
			`UPDATE outbox SET published_at = $1 WHERE id = $2`, now, r.id); err != nil {
			return 0, fmt.Errorf("mark outbox row published: %w", err)
		}
	}

	p.logger.DebugContext(ctx, "outbox batch published", "count", len(batch), "topic", p.topic)
	return len(batch), nil
}

// Close flushes and releases the Kafka client.
func (p *Publisher) Close() {
	p.client.Close()
}
