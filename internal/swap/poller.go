package swap

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/klingon-exchange/klingon-fusion/internal/fusion"
	"github.com/klingon-exchange/klingon-fusion/internal/metrics"
	"github.com/klingon-exchange/klingon-fusion/internal/storage"
)

// Resume polls a submitted session until a final status, the poll budget
// or ctx cancellation. maxPolls 0 means unbounded.
func (o *Orchestrator) Resume(ctx context.Context, sess *Session, maxPolls int) (*Result, error) {
	if sess.OrderHash == "" {
		return nil, fmt.Errorf("%w: session %s has no order hash", ErrMissingParameter, sess.ID)
	}
	return o.poll(ctx, sess, maxPolls)
}

// poll runs the fill/secret/status loop. ctx is checked between iterations;
// calls already in flight finish on a context detached from cancellation so
// an accepted secret is never left unrecorded.
func (o *Orchestrator) poll(ctx context.Context, sess *Session, maxPolls int) (*Result, error) {
	log := o.log.With("swap_id", sess.ID, "order_hash", sess.OrderHash)
	callCtx := context.WithoutCancel(ctx)

	metrics.ActiveSwaps.Inc()
	defer metrics.ActiveSwaps.Dec()

	timer := time.NewTimer(o.policy.PollInterval)
	defer timer.Stop()

	for iteration := 1; ; iteration++ {
		if err := ctx.Err(); err != nil {
			log.Info("Polling cancelled", "error", err)
			return sess.result(), err
		}

		sess.tick()
		metrics.PollIterations.Inc()

		o.shareSecrets(callCtx, sess)

		resp, err := o.relayer.GetOrderStatus(callCtx, sess.OrderHash)
		if err != nil {
			log.Warn("Status query failed", "error", fmt.Errorf("%w: %w", ErrStatusQuery, err))
		} else {
			o.observe(sess, resp)
			if resp.Status.IsTerminal() {
				return o.finish(sess), nil
			}
		}

		if maxPolls > 0 && iteration >= maxPolls {
			res := sess.result()
			res.Timeout = true
			o.emitEvent(sess, EventSwapTimeout, map[string]interface{}{
				"polls":  iteration,
				"status": res.Status,
			})
			metrics.SwapsFinished.WithLabelValues("timeout").Inc()
			log.Warn("Poll budget exhausted", "polls", iteration, "status", res.Status)
			return res, ErrPollTimeout
		}

		timer.Reset(o.policy.PollInterval)
		select {
		case <-ctx.Done():
			log.Info("Polling cancelled", "error", ctx.Err())
			return sess.result(), ctx.Err()
		case <-timer.C:
		}
	}
}

// shareSecrets submits the secret for every ready fill not yet consumed.
// Failures are logged and retried on the next iteration.
func (o *Orchestrator) shareSecrets(ctx context.Context, sess *Session) {
	ready, err := o.relayer.GetReadyToAcceptSecretFills(ctx, sess.OrderHash)
	if err != nil {
		o.log.Warn("Ready fills query failed", "order_hash", sess.OrderHash,
			"error", fmt.Errorf("%w: %w", ErrStatusQuery, err))
		return
	}

	todo, invalid := sess.pending(ready.Indices())
	for _, idx := range invalid {
		o.log.Warn("Relayer reported fill index out of range, skipping",
			"order_hash", sess.OrderHash, "idx", idx, "secrets", sess.SecretsCount())
	}
	if len(todo) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(o.policy.SubmitConcurrency)
	for _, idx := range todo {
		g.Go(func() error {
			o.shareSecret(ctx, sess, idx)
			return nil
		})
	}
	_ = g.Wait()
}

func (o *Orchestrator) shareSecret(ctx context.Context, sess *Session, idx int) {
	secret, err := sess.secrets.At(idx)
	if err != nil {
		o.log.Warn("No secret for fill", "order_hash", sess.OrderHash, "error", err)
		return
	}
	err = o.relayer.SubmitSecret(ctx, sess.OrderHash, secret.Hex())
	if err != nil && !fusion.IsSecretAlreadyAccepted(err) {
		o.log.Warn("Secret submission failed, retrying next poll",
			"order_hash", sess.OrderHash, "idx", idx,
			"error", fmt.Errorf("%w: %w", ErrSecretSubmission, err))
		return
	}
	if !sess.consume(idx) {
		return
	}

	if o.journal != nil {
		if jerr := o.journal.MarkSecretShared(sess.ID, idx); jerr != nil {
			o.log.Warn("Failed to journal shared secret", "swap_id", sess.ID, "idx", idx, "error", jerr)
		}
	}
	metrics.SecretsShared.Inc()
	o.emitEvent(sess, EventSecretShared, map[string]interface{}{
		"idx":              idx,
		"already_accepted": err != nil,
	})
	o.log.Info("Secret shared", "order_hash", sess.OrderHash, "idx", idx, "hash", secret.Hash().Hex())
}

func (o *Orchestrator) observe(sess *Session, resp *fusion.OrderStatusResponse) {
	if !sess.observe(resp) {
		return
	}
	if o.journal != nil {
		if _, err := o.journal.RecordStatus(sess.ID, string(resp.Status)); err != nil {
			o.log.Warn("Failed to journal status", "swap_id", sess.ID, "error", err)
		}
	}
	o.emitEvent(sess, EventStatusChanged, map[string]interface{}{"status": resp.Status})
	o.log.Info("Order status changed", "order_hash", sess.OrderHash, "status", resp.Status)
}

func (o *Orchestrator) finish(sess *Session) *Result {
	res := sess.result()
	o.journalState(sess, storage.SwapStateCompleted, "")
	metrics.SwapsFinished.WithLabelValues(string(res.Status)).Inc()
	o.emitEvent(sess, EventSwapFinished, map[string]interface{}{
		"status":         res.Status,
		"secrets_shared": res.SecretsShared,
		"polls":          res.Polls,
	})
	o.log.Info("Swap finished",
		"order_hash", sess.OrderHash,
		"status", res.Status,
		"secrets_shared", res.SecretsShared,
		"took", time.Since(sess.StartedAt).Round(time.Second))
	return res
}
