package service

import (
	"context"
	"time"

	"github.com/vocdoni/district-pipeline/log"
	"github.com/vocdoni/district-pipeline/processor"
	"github.com/vocdoni/district-pipeline/storage"
)

// ProcessorService represents a service that handles background submission
// processing: proof verification and delivery to the receiver.
type ProcessorService struct {
	processor *processor.Processor
}

// NewProcessor creates the background workers over the given verification
// and delivery authorities.
func NewProcessor(stg *storage.Storage, verifier processor.VerificationAuthority,
	deliverer processor.DeliveryAuthority, verifyTimeout, deliverTimeout time.Duration,
	maxDeliveryAttempts int,
) *ProcessorService {
	return &ProcessorService{
		processor: processor.New(
			processor.NewVerifyProcessor(stg, verifier, verifyTimeout),
			processor.NewDeliverProcessor(stg, deliverer, deliverTimeout, maxDeliveryAttempts),
		),
	}
}

// Start begins the submission processing service.
func (ps *ProcessorService) Start(ctx context.Context) error {
	return ps.processor.Start(ctx)
}

// Stop halts the submission processing service.
func (ps *ProcessorService) Stop() {
	if err := ps.processor.Stop(); err != nil {
		log.Warnw("processor service stopped", "error", err)
	}
}
