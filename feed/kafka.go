package feed

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/golang/glog"
	kafka "github.com/segmentio/kafka-go"
)

const (
	BackoffMinInterval = 1 * time.Second
	BackoffMaxInterval = 60 * time.Second
	BackoffMultiplier  = 1.5
)

type IKafkaReader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

type IKafkaWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

// KafkaSource consumes durable-table changes and dispatches them.
// Commit happens after dispatch: a crash in between replays the message,
// which consumers must tolerate (content-based dedup downstream).
type KafkaSource struct {
	reader        IKafkaReader
	dispatcher    *Dispatcher
	journal       *Journal
	group         string
	valueMaxBytes int

	wg sync.WaitGroup
}

func NewKafkaSource(reader IKafkaReader, dispatcher *Dispatcher, journal *Journal, group string, valueMaxBytes int) *KafkaSource {
	return &KafkaSource{
		reader:        reader,
		dispatcher:    dispatcher,
		journal:       journal,
		group:         group,
		valueMaxBytes: valueMaxBytes,
	}
}

// Run consumes until ctx is cancelled. It may block at reading kafka.
func (s *KafkaSource) Run(ctx context.Context, stopDoneNotifyC chan<- struct{}) {
	glog.Info("feed: kafka consume loop enter")
	s.wg.Add(1)
	go s.consumeLoop(ctx)

	<-ctx.Done()

	glog.Info("feed: kafka source stopping")
	_ = s.reader.Close()
	s.wg.Wait()
	glog.Info("feed: kafka source stopped")
	stopDoneNotifyC <- struct{}{}
}

func (s *KafkaSource) consumeLoop(ctx context.Context) {
	defer func() {
		glog.Info("feed: kafka consume loop exited")
		s.wg.Done()
	}()

	skipTo, found, err := s.journal.LastOffset(s.group)
	if err != nil {
		glog.Errorf("feed: read journal offset err: %v", err)
	} else if found {
		glog.Infof("feed: journal has offset %d, skipping already dispatched messages", skipTo)
	}

	var sleep time.Duration

	for {
		glog.V(5).Info("feed: fetching message ...")
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			glog.Errorf("feed: fetch from kafka err: %v", err)
			if err == context.Canceled {
				return
			}
			backoff(&sleep)
			select {
			case <-time.After(sleep):
				continue
			case <-ctx.Done():
				return
			}
		}
		sleep = 0

		if change := s.decodeKafkaMsg(&msg); change != nil {
			if found && msg.Offset <= skipTo {
				glog.V(5).Infof("feed: skip journaled offset %d", msg.Offset)
				eventsDropped.WithLabelValues("journaled").Inc()
			} else {
				s.dispatcher.Dispatch(*change)
				if err := s.journal.SetOffset(s.group, msg.Offset); err != nil {
					glog.Errorf("feed: journal offset err: %v", err)
				}
			}
		}

		for {
			if err := s.reader.CommitMessages(ctx, msg); err == nil {
				sleep = 0
				break
			} else {
				// If this message is not committed back it will be fetched
				// again; the journal guard above drops the replay.
				glog.Errorf("feed: commit to kafka err: %v", err)
				if err == context.Canceled {
					return
				}
				backoff(&sleep)
				select {
				case <-time.After(sleep):
					continue
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (s *KafkaSource) decodeKafkaMsg(msg *kafka.Message) *Change {
	if len(msg.Value) > s.valueMaxBytes {
		glog.Errorf("feed: kafka value out of limit, offset: %d, size: %d", msg.Offset, len(msg.Value))
		eventsDropped.WithLabelValues("oversize").Inc()
		return nil
	}
	var c Change
	if err := json.Unmarshal(msg.Value, &c); err != nil {
		glog.Errorf("feed: failed to unmarshal kafka msg value: `%s`, error: %v", msg.Value, err)
		eventsDropped.WithLabelValues("malformed").Inc()
		return nil
	}
	if c.Time.IsZero() {
		c.Time = msg.Time
	}
	return &c
}

func backoff(d *time.Duration) {
	if *d == 0 {
		*d = BackoffMinInterval
	} else {
		*d = time.Duration(float64(*d) * BackoffMultiplier)
		if *d < BackoffMaxInterval {
			*d = d.Truncate(time.Millisecond)
		} else {
			*d = BackoffMaxInterval
		}
	}
}

// KafkaPublisher writes changes for durable tables.
type KafkaPublisher struct {
	writer IKafkaWriter
}

func NewKafkaPublisher(writer IKafkaWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

func (p *KafkaPublisher) Publish(ctx context.Context, c Change) error {
	value, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(c.Table),
		Value: value,
	}); err != nil {
		publishErrors.WithLabelValues("kafka").Inc()
		return err
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
