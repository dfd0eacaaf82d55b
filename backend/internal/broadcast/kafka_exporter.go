package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
)

// KafkaExporter 把每条房间广播旁路写入 Kafka，供审计/回放等离线消费。
// 本地有界队列 + worker 异步发送 + 有限重试：
// - Export 只负责入队，永不阻塞广播
// - 队列满时直接丢弃并计数
type KafkaExporter struct {
	producer sarama.SyncProducer
	topic    string
	queue    chan StateEvent
	sem      *semaphore
	logger   *slog.Logger

	workers     int
	maxRetry    int
	baseBackoff time.Duration
	maxBackoff  time.Duration

	sent      atomic.Uint64
	dropped   atomic.Uint64
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type KafkaExporterOptions struct {
	QueueSize      int
	Workers        int
	MaxRetry       int
	MaxConcurrency int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
}

func DefaultKafkaExporterOptions() KafkaExporterOptions {
	return KafkaExporterOptions{
		QueueSize:      1024,
		Workers:        2,
		MaxRetry:       3,
		MaxConcurrency: 4,
		BaseBackoff:    100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

func NewKafkaExporter(producer sarama.SyncProducer, topic string, opt KafkaExporterOptions, logger *slog.Logger) *KafkaExporter {
	if logger == nil {
		logger = slog.Default()
	}
	if opt.Workers < 1 {
		opt.Workers = 1
	}
	d := &KafkaExporter{
		producer:    producer,
		topic:       topic,
		queue:       make(chan StateEvent, opt.QueueSize),
		sem:         newSemaphore(opt.MaxConcurrency),
		logger:      logger,
		workers:     opt.Workers,
		maxRetry:    opt.MaxRetry,
		baseBackoff: opt.BaseBackoff,
		maxBackoff:  opt.MaxBackoff,
	}
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.workerLoop(i)
	}
	return d
}

func (d *KafkaExporter) Export(ev StateEvent) {
	select {
	case d.queue <- ev:
	default:
		d.dropped.Add(1)
		d.logger.Warn("kafka export queue full, drop event", "server_seq", ev.ServerSeq, "event_type", ev.EventType)
	}
}

// Close 停止接收新事件，等待队列中剩余事件发送完毕
func (d *KafkaExporter) Close() error {
	d.closeOnce.Do(func() { close(d.queue) })
	d.wg.Wait()
	if d.producer != nil {
		return d.producer.Close()
	}
	return nil
}

func (d *KafkaExporter) Sent() uint64    { return d.sent.Load() }
func (d *KafkaExporter) Dropped() uint64 { return d.dropped.Load() }

func (d *KafkaExporter) workerLoop(workerID int) {
	defer d.wg.Done()
	for ev := range d.queue {
		d.sendWithRetry(workerID, ev)
	}
}

func (d *KafkaExporter) sendWithRetry(workerID int, ev StateEvent) {
	for attempt := 0; attempt <= d.maxRetry; attempt++ {
		// worker 允许一直等待（不会影响广播主链路）
		_ = d.sem.Acquire(context.Background())
		err := d.sendOnce(ev)
		_ = d.sem.Release()

		if err == nil {
			d.sent.Add(1)
			return
		}
		if attempt == d.maxRetry {
			d.dropped.Add(1)
			d.logger.Warn("kafka send failed, drop event",
				"room", ev.Room, "server_seq", ev.ServerSeq, "worker", workerID, "err", err)
			return
		}

		// 退避，每次退避时间 x2
		backoff := d.baseBackoff * time.Duration(1<<attempt)
		if backoff > d.maxBackoff {
			backoff = d.maxBackoff
		}
		time.Sleep(backoff)
	}
}

func (d *KafkaExporter) sendOnce(ev StateEvent) error {
	if d.producer == nil || d.topic == "" {
		return nil
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: d.topic,
		Key:   sarama.StringEncoder(ev.Room),
		Value: sarama.ByteEncoder(b),
	}
	_, _, err = d.producer.SendMessage(msg)
	return err
}

// NewSyncProducer 按 broker 列表创建同步 producer
func NewSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	// SyncProducer 必须开启 Return.Successes
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	// 重试交给 exporter 自己的退避逻辑
	cfg.Producer.Retry.Max = 0
	return sarama.NewSyncProducer(brokers, cfg)
}
