package calendarsync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	calendar "google.golang.org/api/calendar/v3"
)

// Sync window around now. Events outside it are neither imported nor
// trusted for deletion.
const (
	SyncLookback  = 30 * 24 * time.Hour
	SyncLookahead = 90 * 24 * time.Hour
)

// EventLister yields the calendar events inside a time window.
type EventLister interface {
	EventsInWindow(ctx context.Context, from, to time.Time) ([]*calendar.Event, error)
}

// TxRunner executes a function against a transactional ledger, committing
// only if it returns nil.
type TxRunner interface {
	WithinLedgerTx(ctx context.Context, fn func(Ledger) error) error
}

// SyncService runs full reconciliation passes, one at a time per account.
type SyncService struct {
	locks      *AccountLock
	reconciler *Reconciler
	tx         TxRunner
	logger     *zap.SugaredLogger
}

func NewSyncService(locks *AccountLock, reconciler *Reconciler, tx TxRunner, logger *zap.SugaredLogger) *SyncService {
	return &SyncService{
		locks:      locks,
		reconciler: reconciler,
		tx:         tx,
		logger:     logger,
	}
}

// Sync lists the account's events in the sync window and reconciles them
// into the ledger inside one transaction. Concurrent calls for the same
// account are rejected with ErrSyncInProgress.
func (s *SyncService) Sync(ctx context.Context, accountID int64, events EventLister) (*Result, error) {
	if err := s.locks.Acquire(ctx, accountID); err != nil {
		return nil, err
	}
	defer s.locks.Release(ctx, accountID)

	now := time.Now().UTC()
	from, to := now.Add(-SyncLookback), now.Add(SyncLookahead)

	items, err := events.EventsInWindow(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list calendar events: %w", err)
	}

	// Every event id counts as present, parseable as a lesson or not, so
	// the deletion pass never mistakes a retitled event for a removed one.
	remoteIDs := make(map[string]struct{}, len(items))
	candidates := make([]*LessonCandidate, 0, len(items))
	for _, item := range items {
		if item.Id != "" {
			remoteIDs[item.Id] = struct{}{}
		}
		if candidate := ParseLessonEvent(item); candidate != nil {
			candidates = append(candidates, candidate)
		}
	}

	var result *Result
	err = s.tx.WithinLedgerTx(ctx, func(ledger Ledger) error {
		var txErr error
		result, txErr = s.reconciler.Reconcile(ctx, ledger, candidates, remoteIDs, from, to)
		return txErr
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile calendar events: %w", err)
	}

	s.logger.Infow("calendar sync complete",
		"account_id", accountID,
		"events", len(items),
		"lessons", len(candidates),
		"created", result.Created,
		"updated", result.Updated,
		"linked", result.Linked,
		"deleted", result.Deleted)
	return result, nil
}

// CalendarEvents adapts a calendar service to EventLister, following
// pagination until the window is exhausted.
type CalendarEvents struct {
	service *calendar.Service
}

func NewCalendarEvents(service *calendar.Service) *CalendarEvents {
	return &CalendarEvents{service: service}
}

func (c *CalendarEvents) EventsInWindow(ctx context.Context, from, to time.Time) ([]*calendar.Event, error) {
	var events []*calendar.Event
	pageToken := ""
	for {
		call := c.service.Events.List(primaryCalendar).
			SingleEvents(true).
			OrderBy("startTime").
			TimeMin(from.Format(time.RFC3339)).
			TimeMax(to.Format(time.RFC3339)).
			MaxResults(250)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Context(ctx).Do()
		if err != nil {
			return nil, err
		}
		events = append(events, resp.Items...)
		if resp.NextPageToken == "" {
			return events, nil
		}
		pageToken = resp.NextPageToken
	}
}
