package events

import (
	"context"
	"log/slog"

	"github.com/examforge/recommender/internal/recommend"
	"github.com/examforge/recommender/internal/recommend/cache"
	"github.com/examforge/recommender/internal/store"
	"github.com/examforge/recommender/pkg/errors"
	"github.com/examforge/recommender/pkg/kafka"
	"github.com/examforge/recommender/pkg/metrics"
	"github.com/examforge/recommender/pkg/resilience"
)

// Dispatcher consumes activity events and applies them: consumption events
// become preference signals, catalog-change events force an index rebuild
// and invalidate cached rankings for that kind.
type Dispatcher struct {
	exams     *recommend.Service[store.Exam]
	questions *recommend.Service[store.Question]
	cache     *cache.ResultCache

	// primary scores tags of the item acted on by a strong signal
	// (purchase); secondary scores the weaker upvote signal.
	primary   float64
	secondary float64

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher. resultCache and m may be nil.
func NewDispatcher(
	exams *recommend.Service[store.Exam],
	questions *recommend.Service[store.Question],
	resultCache *cache.ResultCache,
	primary, secondary float64,
	m *metrics.Metrics,
) *Dispatcher {
	return &Dispatcher{
		exams:     exams,
		questions: questions,
		cache:     resultCache,
		primary:   primary,
		secondary: secondary,
		metrics:   m,
		logger:    slog.Default().With("component", "event-dispatcher"),
	}
}

// Handler returns the kafka consumer callback. Transient failures are
// retried with backoff; not-found errors are terminal (the entity or user is
// gone) and are logged without retry so the consumer can commit and move on.
func (d *Dispatcher) Handler() kafka.MessageHandler {
	return func(ctx context.Context, key, value []byte) error {
		event, err := kafka.DecodeJSON[Event](value)
		if err != nil {
			d.logger.Error("dropping undecodable event", "key", string(key), "error", err)
			d.count("unknown", "decode_error")
			return nil
		}
		if err := d.apply(ctx, event); err != nil {
			if errors.IsNotFound(err) {
				d.logger.Warn("dropping event for missing entity or user",
					"type", event.Type,
					"user_id", event.UserID,
					"entity_id", event.EntityID,
					"error", err,
				)
				d.count(string(event.Type), "not_found")
				return nil
			}
			d.count(string(event.Type), "error")
			return err
		}
		d.count(string(event.Type), "ok")
		return nil
	}
}

func (d *Dispatcher) apply(ctx context.Context, event Event) error {
	switch event.Type {
	case TypeExamPurchased:
		return d.retrySignal(ctx, "exam purchase", func() error {
			return d.exams.OnUserConsumed(ctx, event.UserID, event.EntityID, d.primary, d.primary)
		})
	case TypeQuestionUpvoted:
		return d.retrySignal(ctx, "question upvote", func() error {
			return d.questions.OnUserConsumed(ctx, event.UserID, event.EntityID, d.secondary, d.secondary)
		})
	case TypeExamCreated:
		if _, err := d.exams.Setup(ctx, true); err != nil {
			return err
		}
		d.invalidate(ctx, "similar_exam", "user_exam")
		return nil
	case TypeQuestionCreated:
		if _, err := d.questions.Setup(ctx, true); err != nil {
			return err
		}
		d.invalidate(ctx, "user_question")
		return nil
	default:
		d.logger.Warn("ignoring unknown event type", "type", event.Type)
		return nil
	}
}

// retrySignal retries a preference-signal application on transient store
// errors. Not-found is terminal: it stops the retry loop and is surfaced to
// the caller unretried.
func (d *Dispatcher) retrySignal(ctx context.Context, name string, fn func() error) error {
	var notFound error
	err := resilience.Retry(ctx, name, resilience.RetryConfig{MaxAttempts: 3}, func() error {
		err := fn()
		if err != nil && errors.IsNotFound(err) {
			notFound = err
			return nil
		}
		return err
	})
	if notFound != nil {
		return notFound
	}
	return err
}

func (d *Dispatcher) invalidate(ctx context.Context, kinds ...string) {
	if d.cache == nil {
		return
	}
	for _, kind := range kinds {
		if err := d.cache.Invalidate(ctx, kind); err != nil {
			d.logger.Error("cache invalidation failed", "kind", kind, "error", err)
		}
	}
}

func (d *Dispatcher) count(eventType, outcome string) {
	if d.metrics != nil {
		d.metrics.ActivityEventsTotal.WithLabelValues(eventType, outcome).Inc()
	}
}
