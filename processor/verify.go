package processor

import (
	"context"
	"errors"
	"time"

	"github.com/vocdoni/district-pipeline/log"
	"github.com/vocdoni/district-pipeline/storage"
)

// VerificationAuthority checks the proof of a submission. A false return
// with nil error means the proof is well formed but invalid. On success the
// authority may return a reference id for the verification; local engines
// return an empty string.
type VerificationAuthority interface {
	VerifySubmission(ctx context.Context, sub *storage.Submission) (bool, string, error)
}

// VerifyProcessor drains the verification queue. Every outcome is terminal:
// a valid proof moves the submission to the delivery queue, anything else
// (invalid proof, verification error, timeout) parks it as
// verification_failed with a reason.
type VerifyProcessor struct {
	stg       *storage.Storage
	authority VerificationAuthority
	timeout   time.Duration
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewVerifyProcessor creates a verification worker. A non-positive timeout
// falls back to the default.
func NewVerifyProcessor(stg *storage.Storage, authority VerificationAuthority, timeout time.Duration) *VerifyProcessor {
	if timeout <= 0 {
		timeout = defaultVerifyTimeout
	}
	return &VerifyProcessor{stg: stg, authority: authority, timeout: timeout}
}

// Start runs the worker in the background until the context is cancelled.
func (p *VerifyProcessor) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)
	go func() {
		for {
			select {
			case <-p.ctx.Done():
				return
			default:
				sub, key, err := p.stg.NextVerification()
				if err != nil {
					if !errors.Is(err, storage.ErrNoMoreElements) {
						log.Errorf("failed to get next submission to verify: %v", err)
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
func (p *VerifyProcessor) Stop() error {
	p.cancel()
	return nil
}

func (p *VerifyProcessor) processOne(sub *storage.Submission, key []byte) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	start := time.Now()
	ok, txRef, err := p.authority.VerifySubmission(ctx, sub)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		log.Warnw("submission verification timed out",
			"submission", sub.ID, "after", p.timeout.String())
		if err := p.stg.MarkVerificationFailed(key, "verification timed out"); err != nil {
			log.Errorf("failed to mark submission %s failed: %v", sub.ID, err)
		}
	case err != nil:
		log.Warnw("submission verification errored",
			"submission", sub.ID, "err", err)
		if err := p.stg.MarkVerificationFailed(key, err.Error()); err != nil {
			log.Errorf("failed to mark submission %s failed: %v", sub.ID, err)
		}
	case !ok:
		log.Infow("submission proof rejected", "submission", sub.ID)
		if err := p.stg.MarkVerificationFailed(key, "proof rejected"); err != nil {
			log.Errorf("failed to mark submission %s failed: %v", sub.ID, err)
		}
	default:
		log.Debugw("submission verified",
			"submission", sub.ID, "took", time.Since(start).String(), "txRef", txRef)
		if err := p.stg.MarkVerified(key, txRef); err != nil {
			log.Errorf("failed to mark submission %s verified: %v", sub.ID, err)
		}
	}
}
