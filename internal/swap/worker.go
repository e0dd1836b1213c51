package swap

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/klingon-exchange/klingon-fusion/internal/storage"
	"github.com/klingon-exchange/klingon-fusion/pkg/logging"
)

// Worker keeps polling sessions in the background: swaps resumed from the
// journal on start, and sessions adopted after an HTTP caller's poll budget
// ran out. Every loop is unbounded.
type Worker struct {
	orch    *Orchestrator
	journal Journal
	log     *logging.Logger

	mu    sync.Mutex
	loops map[string]context.CancelFunc // order hash -> cancel
	wg    sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWorker creates a worker. It uses the orchestrator's journal, if any.
func NewWorker(orch *Orchestrator) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		orch:    orch,
		journal: orch.Journal(),
		log:     logging.GetDefault().Component("swap-worker"),
		loops:   make(map[string]context.CancelFunc),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start abandons journaled swaps that were never submitted and resumes every
// submitted swap that has no final status. It returns how many were resumed.
func (w *Worker) Start() (int, error) {
	if w.journal == nil {
		w.log.Info("Swap worker started without journal")
		return 0, nil
	}

	stale, err := w.journal.GetSwapsByState(storage.SwapStateCreated)
	if err != nil {
		return 0, fmt.Errorf("failed to load unsubmitted swaps: %w", err)
	}
	for _, rec := range stale {
		if err := w.journal.UpdateSwapState(rec.ID, storage.SwapStateAbandoned, "order was never submitted"); err != nil {
			w.log.Warn("Failed to abandon swap", "swap_id", rec.ID, "error", err)
			continue
		}
		w.log.Info("Abandoned unsubmitted swap", "swap_id", rec.ID, "order_hash", rec.OrderHash)
	}

	pending, err := w.journal.GetResumableSwaps()
	if err != nil {
		return 0, fmt.Errorf("failed to load pending swaps: %w", err)
	}

	resumed := 0
	for _, rec := range pending {
		sess, err := LoadSession(w.journal, rec)
		if err != nil {
			w.log.Error("Cannot resume swap", "swap_id", rec.ID, "order_hash", rec.OrderHash, "error", err)
			if uerr := w.journal.UpdateSwapState(rec.ID, storage.SwapStateFailed, err.Error()); uerr != nil {
				w.log.Warn("Failed to mark swap failed", "swap_id", rec.ID, "error", uerr)
			}
			continue
		}
		if w.Adopt(sess) {
			resumed++
		}
	}

	w.log.Info("Swap worker started", "resumed", resumed, "abandoned", len(stale))
	return resumed, nil
}

// LoadSession rebuilds a session from the journal.
func LoadSession(j Journal, rec *storage.SwapRecord) (*Session, error) {
	secrets, err := j.LoadSecrets(rec.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load secrets: %w", err)
	}
	shared, err := j.SharedIndices(rec.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load shared indices: %w", err)
	}
	return RestoreSession(rec, secrets, shared)
}

// LoadSessionByOrderHash finds a journaled swap by its order hash.
func LoadSessionByOrderHash(j Journal, orderHash string) (*Session, error) {
	if j == nil {
		return nil, errors.New("journal is disabled")
	}
	rec, err := j.GetSwapByOrderHash(orderHash)
	if err != nil {
		return nil, err
	}
	return LoadSession(j, rec)
}

// Adopt polls sess in the background until a final status or Stop. It
// returns false when the session is already being polled or the worker
// is stopped.
func (w *Worker) Adopt(sess *Session) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.ctx.Err() != nil {
		return false
	}
	if _, running := w.loops[sess.OrderHash]; running {
		return false
	}

	ctx, cancel := context.WithCancel(w.ctx)
	w.loops[sess.OrderHash] = cancel
	w.wg.Add(1)

	go func() {
		defer w.wg.Done()
		defer w.release(sess.OrderHash)

		res, err := w.orch.Resume(ctx, sess, 0)
		switch {
		case err == nil:
			w.log.Info("Background swap finished", "order_hash", sess.OrderHash, "status", res.Status)
		case errors.Is(err, context.Canceled):
			w.log.Debug("Background swap stopped", "order_hash", sess.OrderHash)
		default:
			w.log.Warn("Background swap ended", "order_hash", sess.OrderHash, "error", err)
		}
	}()

	w.log.Info("Polling swap in background", "order_hash", sess.OrderHash, "consumed", len(sess.Consumed()))
	return true
}

func (w *Worker) release(orderHash string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if cancel, ok := w.loops[orderHash]; ok {
		cancel()
		delete(w.loops, orderHash)
	}
}

// Running returns the order hashes currently polled.
func (w *Worker) Running() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.loops))
	for h := range w.loops {
		out = append(out, h)
	}
	return out
}

// Stop cancels every loop and waits for them to return. Swaps stay
// journaled as submitted and resume on the next Start.
func (w *Worker) Stop() {
	w.mu.Lock()
	w.cancel()
	w.mu.Unlock()

	w.wg.Wait()
	w.log.Info("Swap worker stopped")
}
