package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ripetizioni-cloud/store"
)

// stubRenewalStore holds accounts and records descriptor writes.
type stubRenewalStore struct {
	accounts []*store.Account
	saved    map[int64]string
	listErr  error
}

func (s *stubRenewalStore) AccountsWithChannel(_ context.Context) ([]*store.Account, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.accounts, nil
}

func (s *stubRenewalStore) SaveGoogleChannel(_ context.Context, accountID int64, channel *string) error {
	if s.saved == nil {
		s.saved = make(map[int64]string)
	}
	s.saved[accountID] = *channel
	return nil
}

// stubChannelRenewer records stop/register calls per account.
type stubChannelRenewer struct {
	stopped     []int64
	registered  []int64
	registerErr error
}

func (s *stubChannelRenewer) StopChannel(_ context.Context, account *store.Account) {
	s.stopped = append(s.stopped, account.ID)
}

func (s *stubChannelRenewer) RegisterChannel(_ context.Context, account *store.Account) (*store.ChannelDescriptor, error) {
	s.registered = append(s.registered, account.ID)
	if s.registerErr != nil {
		return nil, s.registerErr
	}
	return &store.ChannelDescriptor{
		ID:         "renewed",
		ResourceID: "res-renewed",
		Expiration: time.Now().Add(7 * 24 * time.Hour).UnixMilli(),
	}, nil
}

func accountExpiring(t *testing.T, id int64, in time.Duration) *store.Account {
	t.Helper()
	desc := store.ChannelDescriptor{
		ID:         "chan",
		ResourceID: "res",
		Expiration: time.Now().Add(in).UnixMilli(),
	}
	encoded, err := desc.Encode()
	require.NoError(t, err)
	return &store.Account{ID: id, GoogleChannel: &encoded}
}

func TestRenewerRenewsOnlyExpiringChannels(t *testing.T) {
	accounts := &stubRenewalStore{accounts: []*store.Account{
		accountExpiring(t, 1, 2*time.Hour),
		accountExpiring(t, 2, 72*time.Hour),
	}}
	channels := &stubChannelRenewer{}
	renewer := NewWebhookRenewer(accounts, channels, 0, 24*time.Hour, true, zap.NewNop().Sugar())

	renewer.ScanOnce(context.Background())

	require.Equal(t, []int64{1}, channels.stopped)
	require.Equal(t, []int64{1}, channels.registered)
	require.Contains(t, accounts.saved, int64(1))
	require.NotContains(t, accounts.saved, int64(2))

	saved := accounts.saved[1]
	desc, ok := store.ParseChannelDescriptor(&saved)
	require.True(t, ok)
	require.Equal(t, "renewed", desc.ID)
}

func TestRenewerStopsBeforeRegistering(t *testing.T) {
	accounts := &stubRenewalStore{accounts: []*store.Account{accountExpiring(t, 1, time.Hour)}}
	channels := &stubChannelRenewer{registerErr: errors.New("watch failed")}
	renewer := NewWebhookRenewer(accounts, channels, 0, 24*time.Hour, true, zap.NewNop().Sugar())

	renewer.ScanOnce(context.Background())

	// The old channel was stopped even though registration failed; the
	// stored descriptor is left untouched for the next scan.
	require.Equal(t, []int64{1}, channels.stopped)
	require.Equal(t, []int64{1}, channels.registered)
	require.Empty(t, accounts.saved)
}

func TestRenewerSkipsUnreadableDescriptor(t *testing.T) {
	broken := "{not json"
	accounts := &stubRenewalStore{accounts: []*store.Account{
		{ID: 1, GoogleChannel: &broken},
		accountExpiring(t, 2, time.Hour),
	}}
	channels := &stubChannelRenewer{}
	renewer := NewWebhookRenewer(accounts, channels, 0, 24*time.Hour, true, zap.NewNop().Sugar())

	renewer.ScanOnce(context.Background())

	// One account's bad state never blocks the others.
	require.Equal(t, []int64{2}, channels.registered)
}

func TestRenewerListFailureAbortsScan(t *testing.T) {
	accounts := &stubRenewalStore{listErr: errors.New("db down")}
	channels := &stubChannelRenewer{}
	renewer := NewWebhookRenewer(accounts, channels, 0, 24*time.Hour, true, zap.NewNop().Sugar())

	renewer.ScanOnce(context.Background())
	require.Empty(t, channels.stopped)
	require.Empty(t, channels.registered)
}

func TestRenewerDefaultsIntervalAndThreshold(t *testing.T) {
	renewer := NewWebhookRenewer(&stubRenewalStore{}, &stubChannelRenewer{}, 0, 0, true, zap.NewNop().Sugar())
	require.Equal(t, 24*time.Hour, renewer.interval)
	require.Equal(t, 24*time.Hour, renewer.threshold)
}
