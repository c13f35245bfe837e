package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/akua-anchor/pkg/enums"
	pkgerrors "github.com/angelmondragon/akua-anchor/pkg/errors"
	"github.com/angelmondragon/akua-anchor/pkg/logger"
	"github.com/angelmondragon/akua-anchor/pkg/metrics"
)

// Message outcomes reported to metrics and logs.
const (
	OutcomeAcked        = enums.IngestOutcomeAcked
	OutcomeRetried      = enums.IngestOutcomeRetried
	OutcomeDeadLettered = enums.IngestOutcomeDeadLettered
	OutcomeNacked       = enums.IngestOutcomeNacked
)

const (
	defaultMaxAttempts    = 5
	defaultPublishTimeout = 15 * time.Second
	maxErrorAttrLength    = 1024
)

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

// TopicPublisher publishes to one Pub/Sub topic.
type TopicPublisher interface {
	Publish(context.Context, *gcppubsub.Message) PublishResult
}

type PublishResult interface {
	Get(context.Context) (string, error)
}

// PublisherFactory resolves a topic name to its publisher.
type PublisherFactory func(topic string) TopicPublisher

// ServiceParams groups dependencies for the ingestion worker.
type ServiceParams struct {
	Subscription receiver
	Publisher    Publisher
	Topics       PublisherFactory
	InTopic      string
	OutTopic     string
	DLQTopic     string
	MaxAttempts  int
	Metrics      *metrics.IngestMetrics
	Logger       *logger.Logger
	Now          func() time.Time
}

// Service consumes input envelopes, anchors their hash and emits receipts.
// Every message ends acked (receipt, retry or dead letter emitted) or nacked
// when the retry or dead-letter publish itself fails.
type Service struct {
	subscription receiver
	publisher    Publisher
	topics       PublisherFactory
	inTopic      string
	outTopic     string
	dlqTopic     string
	maxAttempts  int
	metrics      *metrics.IngestMetrics
	logg         *logger.Logger
	now          func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Subscription == nil {
		return nil, errors.New("input subscription is required")
	}
	if params.Publisher == nil {
		return nil, errors.New("publisher client is required")
	}
	if params.Topics == nil {
		return nil, errors.New("topic publisher factory is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	for name, topic := range map[string]string{"input": params.InTopic, "output": params.OutTopic, "dead-letter": params.DLQTopic} {
		if strings.TrimSpace(topic) == "" {
			return nil, fmt.Errorf("%s topic is required", name)
		}
	}

	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		subscription: params.Subscription,
		publisher:    params.Publisher,
		topics:       params.Topics,
		inTopic:      params.InTopic,
		outTopic:     params.OutTopic,
		dlqTopic:     params.DLQTopic,
		maxAttempts:  maxAttempts,
		metrics:      params.Metrics,
		logg:         params.Logger,
		now:          now,
	}, nil
}

type processResult struct {
	nack    bool
	outcome enums.IngestOutcome
}

// Run consumes the input subscription until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.subscription.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		start := s.now()
		res := s.process(innerCtx, msg)
		s.metrics.Observe(string(res.outcome), s.now().Sub(start))
		if res.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

func (s *Service) process(ctx context.Context, msg *gcppubsub.Message) processResult {
	env, err := ParseEnvelope(msg.ID, msg.Data, msg.Attributes, s.now())
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"message_id": env.MessageID,
		"attempt":    env.Attempts,
	})
	if env.CorrelationID != "" {
		logCtx = s.logg.WithCorrelationID(logCtx, env.CorrelationID)
	}

	if err == nil {
		logCtx = s.logg.WithHash(logCtx, env.SHA256)
		err = s.anchor(logCtx, env)
	}
	if err == nil {
		return processResult{outcome: OutcomeAcked}
	}

	return s.fail(logCtx, msg, env.Attempts, err)
}

func (s *Service) anchor(ctx context.Context, env *Envelope) error {
	resp, err := s.publisher.Publish(ctx, env.SHA256, env.Meta())
	if err != nil {
		return err
	}
	ctx = s.logg.WithTxID(ctx, resp.TxID)

	receipt := NewReceipt(env, resp)
	data, err := json.Marshal(receipt)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode receipt")
	}
	if err := s.publish(ctx, s.outTopic, &gcppubsub.Message{Data: data, Attributes: receipt.Attributes()}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "publish receipt")
	}

	s.logg.Info(s.logg.WithField(ctx, "cached", resp.Cached), "ingest.anchored")
	return nil
}

func (s *Service) fail(ctx context.Context, msg *gcppubsub.Message, attempts int, cause error) processResult {
	ctx = s.logg.WithField(ctx, "error", cause.Error())
	attrs := copyAttributes(msg.Attributes)
	attrs[AttrAttempts] = strconv.Itoa(attempts)

	retryable := pkgerrors.IsRetryable(cause)
	if retryable && attempts < s.maxAttempts {
		if err := s.publish(ctx, s.inTopic, &gcppubsub.Message{Data: msg.Data, Attributes: attrs}); err != nil {
			s.logg.Error(ctx, "ingest.retry_publish_failed", err)
			return processResult{nack: true, outcome: OutcomeNacked}
		}
		s.logg.Warn(s.logg.WithField(ctx, "max_attempts", s.maxAttempts), "ingest.retry_scheduled")
		return processResult{outcome: OutcomeRetried}
	}

	reason := enums.DeadLetterReasonNonRetryable
	if retryable {
		reason = enums.DeadLetterReasonMaxAttempts
	}
	ctx = s.logg.WithField(ctx, "reason", string(reason))
	attrs[AttrReason] = string(reason)
	attrs[AttrError] = truncate(cause.Error(), maxErrorAttrLength)
	attrs[AttrFailedAt] = s.now().UTC().Format(TimestampLayout)
	if err := s.publish(ctx, s.dlqTopic, &gcppubsub.Message{Data: msg.Data, Attributes: attrs}); err != nil {
		s.logg.Error(ctx, "ingest.dead_letter_publish_failed", err)
		return processResult{nack: true, outcome: OutcomeNacked}
	}
	s.logg.Warn(ctx, "ingest.dead_lettered")
	return processResult{outcome: OutcomeDeadLettered}
}

func (s *Service) publish(ctx context.Context, topic string, msg *gcppubsub.Message) error {
	pub := s.topics(topic)
	if pub == nil {
		return fmt.Errorf("publisher not configured for topic %s", topic)
	}
	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()

	result := pub.Publish(publishCtx, msg)
	if result == nil {
		return fmt.Errorf("publisher returned nil for topic %s", topic)
	}
	_, err := result.Get(publishCtx)
	return err
}

func copyAttributes(in map[string]string) map[string]string {
	out := make(map[string]string, len(in)+3)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return strings.ToValidUTF8(s[:max], "")
}

// GCPTopics adapts a Pub/Sub client lookup to a PublisherFactory. Handles are
// created once per topic; stop flushes and releases them.
func GCPTopics(lookup func(name string) *gcppubsub.Publisher) (factory PublisherFactory, stop func()) {
	var (
		mu   sync.Mutex
		pubs = map[string]*gcppubsub.Publisher{}
	)
	factory = func(topic string) TopicPublisher {
		mu.Lock()
		defer mu.Unlock()
		pub, ok := pubs[topic]
		if !ok {
			pub = lookup(topic)
			if pub == nil {
				return nil
			}
			pubs[topic] = pub
		}
		return &gcpPublisher{Publisher: pub}
	}
	stop = func() {
		mu.Lock()
		defer mu.Unlock()
		for name, pub := range pubs {
			pub.Stop()
			delete(pubs, name)
		}
	}
	return factory, stop
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) PublishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return p.Publisher.Publish(ctx, msg)
}
