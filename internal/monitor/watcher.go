package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"ephemeral-vault/internal/solana"
	"ephemeral-vault/internal/storage"
)

// WatcherOptions contains configuration for creating a Watcher.
type WatcherOptions struct {
	WS           solana.WSClient
	RPC          solana.RPCClient
	Monitor      *Monitor
	ProgramID    string
	Progress     storage.WatchProgressStore // optional; enables resumable backfill
	FetchTimeout time.Duration              // Default: 10s per getTransaction call
	Logger       *log.Logger
}

// Watcher follows vault program logs and marks tracked vaults active
// whenever a successful transaction touches them.
type Watcher struct {
	ws           solana.WSClient
	rpc          solana.RPCClient
	monitor      *Monitor
	programID    string
	progress     storage.WatchProgressStore
	fetchTimeout time.Duration
	logger       *log.Logger
}

// NewWatcher creates a new chain activity watcher.
func NewWatcher(opts WatcherOptions) *Watcher {
	fetchTimeout := opts.FetchTimeout
	if fetchTimeout == 0 {
		fetchTimeout = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Watcher{
		ws:           opts.WS,
		rpc:          opts.RPC,
		monitor:      opts.Monitor,
		programID:    opts.ProgramID,
		progress:     opts.Progress,
		fetchTimeout: fetchTimeout,
		logger:       logger,
	}
}

// Run subscribes to program logs and blocks until ctx is cancelled
// or the subscription channel closes.
func (w *Watcher) Run(ctx context.Context) error {
	notifications, err := w.ws.SubscribeLogs(ctx, solana.LogsFilter{Mentions: []string{w.programID}})
	if err != nil {
		return fmt.Errorf("subscribe program logs: %w", err)
	}
	w.logger.Printf("Watching program %s", w.programID)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-notifications:
			if !ok {
				return errors.New("log subscription closed")
			}
			if n.Err != nil {
				continue
			}
			if _, err := w.handle(ctx, n.Signature); err != nil {
				w.logger.Printf("signature %s: %v", n.Signature, err)
				continue
			}
			w.saveProgress(ctx, n.Slot, n.Signature)
		}
	}
}

// Backfill replays up to limit recent program signatures, newest first,
// and returns how many tracked vaults were touched. With a progress store it
// stops at the last processed signature and records the newest one seen.
func (w *Watcher) Backfill(ctx context.Context, limit int) (int, error) {
	sigs, err := w.rpc.GetSignaturesForAddress(ctx, w.programID, &solana.SignaturesOpts{Limit: limit})
	if err != nil {
		return 0, fmt.Errorf("list program signatures: %w", err)
	}

	last, err := w.lastProcessed(ctx)
	if err != nil {
		return 0, err
	}

	touched := 0
	for i, sig := range sigs {
		if last != nil && (sig.Signature == last.Signature || sig.Slot < last.Slot) {
			sigs = sigs[:i]
			break
		}
		if sig.Err != nil {
			continue
		}
		n, err := w.handle(ctx, sig.Signature)
		if err != nil {
			w.logger.Printf("backfill %s: %v", sig.Signature, err)
			continue
		}
		touched += n
	}
	if len(sigs) > 0 {
		w.saveProgress(ctx, sigs[0].Slot, sigs[0].Signature)
	}
	return touched, nil
}

func (w *Watcher) lastProcessed(ctx context.Context) (*storage.WatchProgress, error) {
	if w.progress == nil {
		return nil, nil
	}
	last, err := w.progress.GetLastProcessed(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load watch progress: %w", err)
	}
	return last, nil
}

// saveProgress records slot/signature unless a later slot is already stored.
func (w *Watcher) saveProgress(ctx context.Context, slot int64, signature string) {
	if w.progress == nil {
		return
	}
	last, err := w.lastProcessed(ctx)
	if err != nil {
		w.logger.Printf("watch progress: %v", err)
		return
	}
	if last != nil && last.Slot > slot {
		return
	}
	if err := w.progress.SetLastProcessed(ctx, &storage.WatchProgress{Slot: slot, Signature: signature}); err != nil {
		w.logger.Printf("save watch progress: %v", err)
	}
}

// handle fetches one transaction and touches every tracked account it names.
func (w *Watcher) handle(ctx context.Context, signature string) (int, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, w.fetchTimeout)
	defer cancel()

	tx, err := w.rpc.GetTransaction(fetchCtx, signature)
	if err != nil {
		return 0, err
	}
	if !tx.Succeeded() {
		return 0, nil
	}

	touched := 0
	for _, key := range tx.AccountKeys {
		if w.monitor.Touch(key) {
			touched++
		}
	}
	return touched, nil
}
