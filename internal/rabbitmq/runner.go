package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sort"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	"github.com/ignite/property-imports/internal/pkg/logger"
)

// ErrDeliveriesClosed is returned by Run when the broker closes a consumer
// while the runner is still active.
var ErrDeliveriesClosed = errors.New("deliveries channel closed")

// HandlerFunc processes one delivery and must settle it.
type HandlerFunc func(ctx context.Context, d *Delivery)

// ConsumeChannel is the part of *amqp.Channel used to consume.
type ConsumeChannel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	ConsumeWithContext(ctx context.Context, queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

// RunnerConfig tunes the runner.
type RunnerConfig struct {
	// Prefetch is the number of unacknowledged deliveries the broker may
	// push to this channel.
	Prefetch int
	// Concurrency is the number of handler goroutines per queue.
	Concurrency int
	// Tag prefixes consumer tags.
	Tag string
}

// Runner dispatches deliveries to handlers registered per queue.
type Runner struct {
	ch       ConsumeChannel
	dlq      DeadLetterPublisher
	cfg      RunnerConfig
	handlers map[string]HandlerFunc
	log      *logger.Logger
}

func NewRunner(ch ConsumeChannel, dlq DeadLetterPublisher, cfg RunnerConfig) *Runner {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Tag == "" {
		cfg.Tag = "imports-worker"
	}
	return &Runner{
		ch:       ch,
		dlq:      dlq,
		cfg:      cfg,
		handlers: make(map[string]HandlerFunc),
		log:      logger.Component("rabbitmq.runner"),
	}
}

// Handle registers fn for queue. It must be called before Run.
func (r *Runner) Handle(queue string, fn HandlerFunc) {
	r.handlers[queue] = fn
}

// Queues lists the registered queues in sorted order.
func (r *Runner) Queues() []string {
	queues := make([]string, 0, len(r.handlers))
	for q := range r.handlers {
		queues = append(queues, q)
	}
	sort.Strings(queues)
	return queues
}

// Run consumes every registered queue until ctx is cancelled. Handlers run
// with a context detached from ctx so in-flight deliveries finish and are
// settled during shutdown.
func (r *Runner) Run(ctx context.Context) error {
	if len(r.handlers) == 0 {
		return errors.New("no handlers registered")
	}
	if err := r.ch.Qos(r.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	for _, queue := range r.Queues() {
		deliveries, err := r.ch.ConsumeWithContext(gctx, queue, r.cfg.Tag+"."+queue, false, false, false, false, nil)
		if err != nil {
			// Stop the queues already consuming before reporting.
			cancel()
			g.Wait()
			return fmt.Errorf("consume %s: %w", queue, err)
		}
		handler := r.handlers[queue]
		for i := 0; i < r.cfg.Concurrency; i++ {
			queue := queue
			g.Go(func() error {
				return r.loop(gctx, queue, deliveries, handler)
			})
		}
		r.log.Info("consuming", "queue", queue, "concurrency", r.cfg.Concurrency, "prefetch", r.cfg.Prefetch)
	}

	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (r *Runner) loop(ctx context.Context, queue string, deliveries <-chan amqp.Delivery, handler HandlerFunc) error {
	hctx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("%s: %w", queue, ErrDeliveriesClosed)
			}
			handler(hctx, NewDelivery(d, r.dlq))
		}
	}
}
