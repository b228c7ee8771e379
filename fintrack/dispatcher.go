package fintrack

import (
	"context"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// Recorder is the part of the client the dispatcher drives.
type Recorder interface {
	Configured() bool
	RecordPayment(ctx context.Context, payment Payment) error
	DeletePayment(ctx context.Context, payment Payment) error
}

type jobKind int

const (
	jobRecord jobKind = iota
	jobDelete
)

type job struct {
	kind    jobKind
	payment Payment
}

// Dispatcher decouples FinTrack calls from request handling. Jobs run on
// a single background worker with retries, so a slow or flapping FinTrack
// never delays a payment toggle and a lost job never corrupts the ledger.
type Dispatcher struct {
	client Recorder
	jobs   chan job
	logger *zap.SugaredLogger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDispatcher(client Recorder, logger *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		client: client,
		jobs:   make(chan job, 64),
		logger: logger,
	}
}

func (d *Dispatcher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.wg.Add(1)
	go d.worker(ctx)
}

// Stop drains nothing: queued jobs that have not started are dropped.
// FinTrack sync is best-effort and the next manual correction fixes any gap.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

// EnqueueRecord schedules an income transaction for a paid lesson.
func (d *Dispatcher) EnqueueRecord(payment Payment) {
	d.enqueue(job{kind: jobRecord, payment: payment})
}

// EnqueueDelete schedules removal of a transaction for an unpaid lesson.
func (d *Dispatcher) EnqueueDelete(payment Payment) {
	d.enqueue(job{kind: jobDelete, payment: payment})
}

func (d *Dispatcher) enqueue(j job) {
	if !d.client.Configured() {
		return
	}
	select {
	case d.jobs <- j:
	default:
		d.logger.Warnw("fintrack queue full, dropping job", "notes", j.payment.Notes)
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-d.jobs:
			d.run(ctx, j)
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, j job) {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(2*time.Second))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var callErr error
		switch j.kind {
		case jobRecord:
			callErr = d.client.RecordPayment(ctx, j.payment)
		case jobDelete:
			callErr = d.client.DeletePayment(ctx, j.payment)
		}
		if callErr != nil {
			return retry.RetryableError(callErr)
		}
		return nil
	})
	if err != nil {
		d.logger.Errorw("fintrack sync failed after retries", "notes", j.payment.Notes, "error", err)
		return
	}
	d.logger.Infow("fintrack sync complete", "notes", j.payment.Notes)
}
