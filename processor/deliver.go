package processor

import (
	"context"
	"errors"
	"time"

	"github.com/vocdoni/district-pipeline/log"
	"github.com/vocdoni/district-pipeline/storage"
)

// DeliveryAuthority forwards a verified submission to the receiver and
// returns the receiver's delivery reference.
type DeliveryAuthority interface {
	Deliver(ctx context.Context, sub *storage.Submission) (string, error)
}

// DeliverProcessor drains the delivery queue. Failed attempts are retried by
// releasing the reservation until maxAttempts is reached; then the
// submission is parked as delivery_failed.
type DeliverProcessor struct {
	stg         *storage.Storage
	authority   DeliveryAuthority
	timeout     time.Duration
	maxAttempts int
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewDeliverProcessor creates a delivery worker. Non-positive timeout or
// maxAttempts fall back to the defaults.
func NewDeliverProcessor(stg *storage.Storage, authority DeliveryAuthority, timeout time.Duration, maxAttempts int) *DeliverProcessor {
	if timeout <= 0 {
		timeout = defaultDeliverTimeout
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxDeliveryAttempts
	}
	return &DeliverProcessor{stg: stg, authority: authority, timeout: timeout, maxAttempts: maxAttempts}
}

// Start runs the worker in the background until the context is cancelled.
func (p *DeliverProcessor) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)
	go func() {
		for {
			select {
			case <-p.ctx.Done():
				return
			default:
				sub, key, err := p.stg.NextDelivery()
				if err != nil {
					if !errors.Is(err, storage.ErrNoMoreElements) {
						log.Errorf("failed to get next submission to deliver: %v", err)
					}
					select {
					case <-p.ctx.Done():
					case <-time.After(idleInterval):
					}
					continue
				}
				p.processOne(sub, key)
			}
		}
	}()
	return nil
}

// Stop cancels the worker context.
func (p *DeliverProcessor) Stop() error {
	p.cancel()
	return nil
}

func (p *DeliverProcessor) processOne(sub *storage.Submission, key []byte) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	ref, err := p.authority.Deliver(ctx, sub)
	if err == nil {
		log.Infow("submission delivered", "submission", sub.ID, "ref", ref)
		if err := p.stg.MarkDelivered(key, ref); err != nil {
			log.Errorf("failed to mark submission %s delivered: %v", sub.ID, err)
		}
		return
	}

	if sub.DeliveryAttempts+1 >= p.maxAttempts {
		log.Warnw("submission delivery gave up",
			"submission", sub.ID, "attempts", sub.DeliveryAttempts+1, "err", err)
		if err := p.stg.MarkDeliveryFailed(key, err.Error()); err != nil {
			log.Errorf("failed to mark submission %s delivery failed: %v", sub.ID, err)
		}
		return
	}

	log.Warnw("submission delivery attempt failed, will retry",
		"submission", sub.ID, "attempt", sub.DeliveryAttempts+1, "err", err)
	if err := p.stg.ReleaseDelivery(key); err != nil {
		log.Errorf("failed to release delivery of submission %s: %v", sub.ID, err)
	}
}
