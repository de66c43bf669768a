// Package processor runs the background workers of the submission pipeline:
// one drains the verification queue through the proving gateway, the other
// drains the delivery queue towards the receiver webhook. Workers pull from
// storage queues with reservations, so multiple instances of the same worker
// never process the same submission twice.
package processor

import (
	"context"
	"fmt"
	"time"
)

const (
	// defaultVerifyTimeout bounds one proof verification.
	defaultVerifyTimeout = 30 * time.Second
	// defaultDeliverTimeout bounds one webhook delivery attempt.
	defaultDeliverTimeout = 20 * time.Second
	// defaultMaxDeliveryAttempts is the attempt count after which a
	// submission is parked as delivery_failed.
	defaultMaxDeliveryAttempts = 5
	// idleInterval is how long a worker sleeps when its queue is drained.
	idleInterval = 500 * time.Millisecond
)

// Processor owns the verification and delivery workers.
type Processor struct {
	verifier  *VerifyProcessor
	deliverer *DeliverProcessor
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a processor over both workers.
func New(verifier *VerifyProcessor, deliverer *DeliverProcessor) *Processor {
	return &Processor{verifier: verifier, deliverer: deliverer}
}

// Start launches both workers in the background.
func (p *Processor) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)
	if err := p.verifier.Start(p.ctx); err != nil {
		return fmt.Errorf("failed to start verification worker: %w", err)
	}
	if err := p.deliverer.Start(p.ctx); err != nil {
		return fmt.Errorf("failed to start delivery worker: %w", err)
	}
	return nil
}

// Stop cancels the context of both workers.
func (p *Processor) Stop() error {
	p.cancel()
	return nil
}
