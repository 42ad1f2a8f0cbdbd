package authcore

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// ledgerDispatcher writes login attempts off the request path. A full buffer
// drops the attempt when DropIfFull is set; ledger errors are logged only.
type ledgerDispatcher struct {
	cfg       LedgerConfig
	ledger    LoginAttemptLedger
	logger    *zap.Logger
	ch        chan LoginAttempt
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func newLedgerDispatcher(cfg LedgerConfig, ledger LoginAttemptLedger, logger *zap.Logger) *ledgerDispatcher {
	if ledger == nil {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}

	d := &ledgerDispatcher{
		cfg:    cfg,
		ledger: ledger,
		logger: logger,
		ch:     make(chan LoginAttempt, cfg.BufferSize),
		done:   make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *ledgerDispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case attempt := <-d.ch:
			d.write(attempt)
		case <-d.done:
			for {
				select {
				case attempt := <-d.ch:
					d.write(attempt)
				default:
					return
				}
			}
		}
	}
}

func (d *ledgerDispatcher) write(attempt LoginAttempt) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.WriteTimeout)
	defer cancel()

	if err := d.ledger.Append(ctx, attempt); err != nil {
		d.logger.Warn("login attempt not recorded",
			zap.String("email", attempt.Email),
			zap.Bool("success", attempt.Success),
			zap.Error(err),
		)
	}
}

// Record enqueues attempt. It never returns an error.
func (d *ledgerDispatcher) Record(ctx context.Context, attempt LoginAttempt) {
	if d == nil || d.closed.Load() {
		return
	}

	if d.cfg.DropIfFull {
		select {
		case d.ch <- attempt:
		case <-d.done:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.ch <- attempt:
	case <-ctx.Done():
		d.dropped.Add(1)
	case <-d.done:
	}
}

// Close stops accepting attempts and flushes the buffer.
func (d *ledgerDispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

func (d *ledgerDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
