package kafka

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

// MessageHandler processes messages from one topic.
type MessageHandler interface {
	Topic() string
	Handle(ctx context.Context, data []byte) error
}

// Consumer runs one group reader per registered topic and dispatches
// messages to a shared worker pool. Offsets are committed only after a
// message is handled or parked on the DLQ, so unhandled messages come
// back on the next rebalance.
type Consumer struct {
	cfg      *ConsumerConfig
	handlers map[string]MessageHandler
	readers  map[string]*kafka.Reader
	dlq      *kafka.Writer
	hook     ConsumerHook

	ctx      context.Context
	cancel   context.CancelFunc
	msgCh    chan inbound
	readerWG sync.WaitGroup
	workerWG sync.WaitGroup
	stopOnce sync.Once

	gateMu sync.Mutex
	gates  map[partitionKey]*sync.Mutex
}

type inbound struct {
	topic string
	km    kafka.Message
}

type partitionKey struct {
	topic     string
	partition int
}

// NewConsumer builds a consumer for the configured brokers. Handlers
// are attached with RegisterHandler before Start.
func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := &ConsumerConfig{
		GroupID:    "default",
		Workers:    1,
		BufferSize: 10,
		RetryMax:   3,
		BackoffMin: 50 * time.Millisecond,
		BackoffMax: 2 * time.Second,
		MinBytes:   10e3,
		MaxBytes:   10e6,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 10
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Consumer{
		cfg:      cfg,
		handlers: make(map[string]MessageHandler),
		readers:  make(map[string]*kafka.Reader),
		hook:     NoopHook{},
		ctx:      ctx,
		cancel:   cancel,
		msgCh:    make(chan inbound, cfg.BufferSize),
		gates:    make(map[partitionKey]*sync.Mutex),
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Balancer: &kafka.LeastBytes{}}
	}
	return c, nil
}

// RegisterHandler maps a topic to its handler. Must be called before Start.
func (c *Consumer) RegisterHandler(h MessageHandler) {
	topic := h.Topic()
	if _, dup := c.handlers[topic]; dup {
		log.Printf("kafka consumer: duplicate handler for topic %s ignored", topic)
		return
	}
	c.handlers[topic] = h
}

// WithConsumerHook installs lifecycle hooks around message handling.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// Start spawns one reader per registered topic and the worker pool.
func (c *Consumer) Start() error {
	for topic := range c.handlers {
		c.readers[topic] = kafka.NewReader(kafka.ReaderConfig{
			Brokers:  c.cfg.Brokers,
			Topic:    topic,
			GroupID:  c.cfg.GroupID,
			MinBytes: c.cfg.MinBytes,
			MaxBytes: c.cfg.MaxBytes,
		})
	}

	for i := 0; i < c.cfg.Workers; i++ {
		c.workerWG.Add(1)
		go c.worker()
	}
	for topic, reader := range c.readers {
		c.readerWG.Add(1)
		go c.fetch(topic, reader)
	}
	log.Printf("kafka consumer: started topics=%d workers=%d group=%s",
		len(c.readers), c.cfg.Workers, c.cfg.GroupID)
	return nil
}

// Stop drains the consumer. Readers exit before the worker channel is
// closed so no reader can send on a closed channel; workers then finish
// whatever is buffered, bounded by the context deadline.
func (c *Consumer) Stop(ctx context.Context) error {
	var stopErr error
	c.stopOnce.Do(func() {
		c.cancel()
		c.readerWG.Wait()
		close(c.msgCh)

		done := make(chan struct{})
		go func() {
			c.workerWG.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			stopErr = fmt.Errorf("waiting for consumer workers: %w", ctx.Err())
		}

		for topic, reader := range c.readers {
			if err := reader.Close(); err != nil {
				log.Printf("kafka consumer: close reader %s: %v", topic, err)
			}
		}
		if c.dlq != nil {
			if err := c.dlq.Close(); err != nil {
				log.Printf("kafka consumer: close dlq writer: %v", err)
			}
		}
	})
	return stopErr
}

// fetch pulls messages without committing them; commits happen after
// handling. A full worker queue blocks the fetch, which is the
// backpressure that keeps consumption at handler speed.
func (c *Consumer) fetch(topic string, reader *kafka.Reader) {
	defer c.readerWG.Done()

	for {
		km, err := reader.FetchMessage(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			log.Printf("kafka consumer: fetch %s: %v", topic, err)
			time.Sleep(time.Second)
			continue
		}

		select {
		case c.msgCh <- inbound{topic: topic, km: km}:
			consumerQueueDepth.WithLabelValues(topic).Set(float64(len(c.msgCh)))
			consumerQueueFullness.WithLabelValues(topic).Set(float64(len(c.msgCh)) / float64(cap(c.msgCh)))
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Consumer) worker() {
	defer c.workerWG.Done()

	for msg := range c.msgCh {
		handler, ok := c.handlers[msg.topic]
		if !ok {
			continue
		}
		c.dispatch(msg, handler)
	}
}

// dispatch holds the partition gate for the message so each partition
// has at most one message in flight, preserving per-key order.
func (c *Consumer) dispatch(msg inbound, handler MessageHandler) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("kafka consumer: panic handling %s: %v", msg.topic, r)
		}
	}()

	gate := c.partitionGate(msg.topic, msg.km.Partition)
	gate.Lock()
	defer gate.Unlock()

	start := time.Now()
	err := c.handleWithRetry(msg, handler)
	if err != nil {
		if c.ctx.Err() != nil {
			// Shutdown interrupted the retries. Leave the offset
			// uncommitted so the message is redelivered.
			return
		}
		log.Printf("kafka consumer: giving up on %s message: %v", msg.topic, err)
	}

	// Commit on success, or once the failure is parked on the DLQ, so a
	// poison message cannot wedge its partition.
	if err == nil || c.sendToDLQ(msg) {
		if reader := c.readers[msg.topic]; reader != nil {
			_ = c.commitWithRetry(reader, msg.km, 3)
		}
	}
	consumerHandleLatency.WithLabelValues(msg.topic).Observe(time.Since(start).Seconds())
}

func (c *Consumer) handleWithRetry(msg inbound, handler MessageHandler) error {
	for attempt := 1; ; attempt++ {
		hctx, hkm, data, err := c.hook.BeforeHandle(context.Background(), msg.topic, msg.km, msg.km.Value)
		if err == nil {
			err = handler.Handle(hctx, data)
			c.hook.AfterHandle(hctx, msg.topic, hkm, data, err)
		}
		if err == nil || attempt > c.cfg.RetryMax {
			return err
		}
		c.hook.OnError(hctx, msg.topic, hkm, data, err)

		select {
		case <-time.After(backoffJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempt)):
		case <-c.ctx.Done():
			return err
		}
	}
}

func (c *Consumer) sendToDLQ(msg inbound) bool {
	if c.dlq == nil {
		return false
	}
	err := c.dlq.WriteMessages(context.Background(), kafka.Message{
		Topic:   c.cfg.DLQTopic,
		Value:   msg.km.Value,
		Time:    time.Now(),
		Headers: []kafka.Header{{Key: "source_topic", Value: []byte(msg.topic)}},
	})
	if err != nil {
		log.Printf("kafka consumer: dlq write for %s: %v", msg.topic, err)
		return false
	}
	return true
}

func (c *Consumer) commitWithRetry(reader *kafka.Reader, km kafka.Message, attempts int) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = reader.CommitMessages(ctx, km)
		cancel()
		if err == nil {
			return nil
		}
		time.Sleep(backoffJitter(50*time.Millisecond, 500*time.Millisecond, i))
	}
	log.Printf("kafka consumer: commit failed after %d attempts: %v", attempts, err)
	return err
}

func (c *Consumer) partitionGate(topic string, partition int) *sync.Mutex {
	key := partitionKey{topic: topic, partition: partition}

	c.gateMu.Lock()
	defer c.gateMu.Unlock()
	gate, ok := c.gates[key]
	if !ok {
		gate = &sync.Mutex{}
		c.gates[key] = gate
	}
	return gate
}

// backoffJitter grows exponentially from min, caps at max, and strips
// up to half the delay so synchronized retries spread apart.
func backoffJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	shift := uint(attempt - 1)
	if shift > 10 {
		shift = 10
	}
	d := min << shift
	if d <= 0 || d > max {
		d = max
	}
	if half := int64(d) / 2; half > 0 {
		d -= time.Duration(rand.Int63n(half))
	}
	return d
}

var (
	consumerQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "zwatch_kafka_consumer_queue_depth",
		Help: "Messages waiting in the consumer worker queue",
	}, []string{"topic"})
	consumerQueueFullness = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "zwatch_kafka_consumer_queue_fullness",
		Help: "Worker queue utilization (len/cap)",
	}, []string{"topic"})
	consumerHandleLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "zwatch_kafka_consumer_handle_seconds",
		Help: "Handling time per message",
	}, []string{"topic"})
)
