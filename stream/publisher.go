package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/hupe1980/stepmesh/logging"
)

// DefaultTopicPrefix prefixes the per-thread frame topics.
const DefaultTopicPrefix = "stepmesh.frames."

// PublisherOptions configures a Publisher.
type PublisherOptions struct {
	TopicPrefix string
	Logger      logging.Logger
}

// Publisher fans frames out to a watermill topic per thread so several
// subscribers can observe one run.
type Publisher struct {
	pub  message.Publisher
	opts PublisherOptions
}

// NewPublisher wraps pub.
func NewPublisher(pub message.Publisher, optFns ...func(o *PublisherOptions)) *Publisher {
	opts := PublisherOptions{TopicPrefix: DefaultTopicPrefix}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &Publisher{pub: pub, opts: opts}
}

// Topic returns the topic frames of threadID are published on.
func (p *Publisher) Topic(threadID string) string { return p.opts.TopicPrefix + threadID }

// MetadataSeq is the message metadata key carrying the 1-based position of a
// frame within its run, as published by Tee.
const MetadataSeq = "seq"

// Publish sends f on the topic of threadID.
func (p *Publisher) Publish(threadID string, f Frame) error {
	return p.publish(threadID, 0, f)
}

func (p *Publisher) publish(threadID string, seq int, f Frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("thread_id", threadID)
	msg.Metadata.Set("node", f.Metadata.Node)
	msg.Metadata.Set("type", f.Metadata.Type)
	if seq > 0 {
		msg.Metadata.Set(MetadataSeq, strconv.Itoa(seq))
	}

	if err := p.pub.Publish(p.Topic(threadID), msg); err != nil {
		return fmt.Errorf("publish frame: %w", err)
	}
	return nil
}

// Tee publishes every frame, stamped with its sequence number, and passes it
// through unchanged. Publish failures are logged and do not interrupt the
// stream.
func (p *Publisher) Tee(ctx context.Context, threadID string, frames <-chan Frame) <-chan Frame {
	out := make(chan Frame, 16)
	go func() {
		defer close(out)
		seq := 0
		for f := range frames {
			seq++
			if err := p.publish(threadID, seq, f); err != nil {
				p.opts.Logger.Warn("stream.publish.failed", "thread_id", threadID, "error", err.Error())
			}
			select {
			case out <- f:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Decode reads a frame published by Publisher.
func Decode(msg *message.Message) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(msg.Payload, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame %s: %w", msg.UUID, err)
	}
	return f, nil
}

// NewGoChannel creates an in-process pub/sub for frames. Publishing waits for
// subscribers to ack each frame, so subscribers see frames in run order and a
// slow subscriber applies backpressure to the run.
func NewGoChannel(logger logging.Logger) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            64,
		BlockPublishUntilSubscriberAck: true,
	}, WatermillLogger(logger))
}

// WatermillLogger adapts logger to watermill.
func WatermillLogger(logger logging.Logger) watermill.LoggerAdapter {
	return &watermillLogger{logger: logging.OrNoOp(logger)}
}

type watermillLogger struct {
	logger logging.Logger
	fields watermill.LogFields
}

func (l *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	args := l.args(fields)
	if err != nil {
		args = append(args, "error", err.Error())
	}
	l.logger.Error(msg, args...)
}

func (l *watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.logger.Info(msg, l.args(fields)...)
}

func (l *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.logger.Debug(msg, l.args(fields)...)
}

// Trace maps to debug.
func (l *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.logger.Debug(msg, l.args(fields)...)
}

func (l *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	merged := watermill.LogFields{}
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &watermillLogger{logger: l.logger, fields: merged}
}

func (l *watermillLogger) args(fields watermill.LogFields) []any {
	all := make(map[string]any, len(l.fields)+len(fields))
	for k, v := range l.fields {
		all[k] = v
	}
	for k, v := range fields {
		all[k] = v
	}
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		args = append(args, k, all[k])
	}
	return args
}
