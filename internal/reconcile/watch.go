package reconcile

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"solana-swap-ledger/internal/solana"
	"solana-swap-ledger/internal/storage"
)

// Run reconciles every interval until ctx is cancelled. With a Subscriber
// configured, updates to any seen token account schedule a check of its target
// after the settle delay, giving the trade pipeline time to record the swap.
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.Info("reconciler started",
		zap.Int("targets", len(r.targets)),
		zap.Duration("interval", r.interval),
		zap.String("tolerance", r.tolerance.String()),
		zap.Bool("watch", r.subscriber != nil),
	)

	updates := make(chan Target, 64)
	due := make(chan Target, 64)
	pending := make(map[string]bool)

	r.pass(ctx, updates)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopping")
			return ctx.Err()

		case <-ticker.C:
			r.pass(ctx, updates)

		case t := <-updates:
			if pending[t.key()] {
				continue
			}
			pending[t.key()] = true
			time.AfterFunc(r.settleDelay, func() {
				select {
				case due <- t:
				case <-ctx.Done():
				}
			})

		case t := <-due:
			delete(pending, t.key())
			r.checkTriggered(ctx, t)
		}
	}
}

func (r *Reconciler) pass(ctx context.Context, updates chan<- Target) {
	if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Error("reconcile pass failed", zap.Error(err))
	}
	r.watchNew(ctx, updates)
}

// checkTriggered checks a single target under the reconcile lock.
func (r *Reconciler) checkTriggered(ctx context.Context, t Target) {
	release, err := r.locker.Acquire(ctx, LockKey, r.lockTTL)
	if errors.Is(err, storage.ErrLockHeld) {
		r.logger.Debug("triggered check skipped, lock held elsewhere", zap.String("wallet_id", t.WalletID))
		return
	}
	if err != nil {
		r.logger.Error("acquire reconcile lock", zap.Error(err))
		return
	}
	defer release()

	if _, err := r.CheckTarget(ctx, t); err != nil {
		r.logger.Error("triggered reconcile failed",
			zap.String("wallet_id", t.WalletID),
			zap.String("token", t.Token),
			zap.Error(err),
		)
	}
}

// rememberAccounts records the token accounts holding t's mint.
func (r *Reconciler) rememberAccounts(t Target, accounts []solana.TokenAccount) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, acc := range accounts {
		r.accounts[acc.Address] = t
	}
}

// watchNew subscribes to token accounts seen since the last call.
func (r *Reconciler) watchNew(ctx context.Context, updates chan<- Target) {
	if r.subscriber == nil {
		return
	}

	r.mu.Lock()
	fresh := make(map[string]Target)
	for addr, t := range r.accounts {
		if !r.watched[addr] {
			fresh[addr] = t
		}
	}
	r.mu.Unlock()

	for addr, t := range fresh {
		ch, err := r.subscriber.SubscribeAccount(ctx, addr)
		if err != nil {
			r.logger.Warn("account subscribe failed, relying on periodic passes",
				zap.String("account", addr), zap.Error(err))
			continue
		}

		r.mu.Lock()
		r.watched[addr] = true
		r.mu.Unlock()

		go forward(ctx, ch, t, updates)
	}
}

func forward(ctx context.Context, ch <-chan solana.AccountNotification, t Target, updates chan<- Target) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			select {
			case updates <- t:
			case <-ctx.Done():
				return
			}
		}
	}
}
