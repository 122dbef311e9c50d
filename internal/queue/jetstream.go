package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/mcastelli/vidmatch/internal/config"
)

const (
	uploadConsumerName   = "upload-producer"
	trackingConsumerName = "tracking-worker"
)

// JetStreamQueue implements Queue on a NATS JetStream work-queue stream.
// Delivery visibility maps onto the consumer AckWait: an unacked message is
// redelivered once the window lapses, and Extend resets the window.
type JetStreamQueue struct {
	conn     *nats.Conn
	js       jetstream.JetStream
	cfg      config.QueueConfig
	upload   jetstream.Consumer
	tracking jetstream.Consumer
}

// NewJetStreamQueue connects to NATS, ensures the stream and its two durable
// consumers exist, and returns a ready queue.
func NewJetStreamQueue(ctx context.Context, cfg config.QueueConfig) (*JetStreamQueue, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing jetstream: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.StreamName,
		Subjects:  []string{cfg.UploadSubject, cfg.TrackSubject},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ensuring stream %s: %w", cfg.StreamName, err)
	}

	q := &JetStreamQueue{conn: conn, js: js, cfg: cfg}

	q.upload, err = stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       uploadConsumerName,
		FilterSubject: cfg.UploadSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       cfg.VisibilityTime,
		MaxDeliver:    -1,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ensuring upload consumer: %w", err)
	}

	q.tracking, err = stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       trackingConsumerName,
		FilterSubject: cfg.TrackSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       cfg.VisibilityTime,
		MaxDeliver:    -1,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ensuring tracking consumer: %w", err)
	}

	slog.Info("queue ready", "stream", cfg.StreamName,
		"upload_subject", cfg.UploadSubject, "track_subject", cfg.TrackSubject)

	return q, nil
}

// publish sends a payload with a fresh message id header. JetStream uses the
// id for server-side deduplication; consumers read it back as Message.ID.
func (q *JetStreamQueue) publish(ctx context.Context, subject string, payload []byte) (string, error) {
	id := uuid.New().String()
	msg := &nats.Msg{
		Subject: subject,
		Data:    payload,
		Header:  nats.Header{jetstream.MsgIDHeader: []string{id}},
	}
	if _, err := q.js.PublishMsg(ctx, msg); err != nil {
		return "", fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return id, nil
}

func (q *JetStreamQueue) PublishUploadEvent(ctx context.Context, event UploadEvent) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", err
	}
	return q.publish(ctx, q.cfg.UploadSubject, data)
}

func (q *JetStreamQueue) PublishTracking(ctx context.Context, msg TrackingMessage) (string, error) {
	data, err := msg.marshal()
	if err != nil {
		return "", err
	}
	return q.publish(ctx, q.cfg.TrackSubject, data)
}

func (q *JetStreamQueue) FetchUploadEvents(ctx context.Context, batch int) ([]Message, error) {
	return q.fetch(ctx, q.upload, batch)
}

func (q *JetStreamQueue) FetchTracking(ctx context.Context, batch int) ([]Message, error) {
	return q.fetch(ctx, q.tracking, batch)
}

func (q *JetStreamQueue) fetch(ctx context.Context, consumer jetstream.Consumer, batch int) ([]Message, error) {
	if batch <= 0 {
		batch = q.cfg.BatchSize
	}
	res, err := consumer.Fetch(batch, jetstream.FetchMaxWait(q.cfg.FetchWait))
	if err != nil {
		return nil, fmt.Errorf("fetching batch: %w", err)
	}

	var out []Message
	for msg := range res.Messages() {
		out = append(out, &jetStreamMessage{msg: msg})
	}
	if err := res.Error(); err != nil {
		return out, fmt.Errorf("draining batch: %w", err)
	}
	return out, nil
}

// Close drains the connection, letting in-flight acks finish.
func (q *JetStreamQueue) Close() {
	if err := q.conn.Drain(); err != nil {
		slog.Warn("draining nats connection", "error", err)
	}
}

type jetStreamMessage struct {
	msg jetstream.Msg
}

func (m *jetStreamMessage) ID() string {
	return m.msg.Headers().Get(jetstream.MsgIDHeader)
}

func (m *jetStreamMessage) Body() []byte {
	return m.msg.Data()
}

func (m *jetStreamMessage) Extend(_ context.Context) error {
	return m.msg.InProgress()
}

func (m *jetStreamMessage) Ack() error {
	return m.msg.Ack()
}

func (m *jetStreamMessage) Retry(delay time.Duration) error {
	return m.msg.NakWithDelay(delay)
}

func (m *jetStreamMessage) Discard() error {
	return m.msg.Term()
}

var _ Queue = (*JetStreamQueue)(nil)
var _ Message = (*jetStreamMessage)(nil)
