// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package polling

import (
	"context"
	"sync"

	"github.com/tomtom215/splitsync/internal/controlplane"
	"github.com/tomtom215/splitsync/internal/logging"
	"github.com/tomtom215/splitsync/internal/models"
	"github.com/tomtom215/splitsync/internal/readiness"
	"github.com/tomtom215/splitsync/internal/storage"
)

// MembershipsData is a membership delta carried by a streaming notification.
// Kind selects the storage: models.TypeMembershipsLSUpdate targets large
// segments, anything else targets segments.
type MembershipsData struct {
	Kind         models.NotificationType
	ChangeNumber int64
	Added        []string
	Removed      []string
}

// MembershipsUpdater keeps the memberships of one key in sync
// (client-side engines).
type MembershipsUpdater struct {
	key       string
	fetcher   MembershipsFetcher
	storage   *storage.Storage
	readiness *readiness.Manager
	cfg       Config

	mu         sync.Mutex
	startingUp bool
	notified   bool
}

// NewMembershipsUpdater creates an updater for key.
func NewMembershipsUpdater(key string, fetcher MembershipsFetcher, store *storage.Storage, rd *readiness.Manager, cfg Config) *MembershipsUpdater {
	return &MembershipsUpdater{
		key:        key,
		fetcher:    fetcher,
		storage:    store,
		readiness:  rd,
		cfg:        cfg,
		startingUp: true,
	}
}

// Execute applies data when given, without contacting the control plane;
// otherwise it fetches the full memberships of the key.
func (u *MembershipsUpdater) Execute(ctx context.Context, data *MembershipsData, noCache bool, till int64) bool {
	if data != nil {
		u.apply(data)
		return true
	}

	for retry := 0; ; retry++ {
		err := u.fetchAndReset(ctx, noCache, till)
		if err == nil {
			return true
		}

		logging.Ctx(ctx).Warn().Str("component", "polling").Str("key", logging.RedactKey(u.key)).Err(err).Msg("Memberships fetch failed")

		if !u.isStartingUp() || retry >= u.cfg.RetriesOnFailureBeforeReady || ctx.Err() != nil {
			u.setStartingUp(false)
			return false
		}
		logging.Ctx(ctx).Info().Str("component", "polling").Int("retry", retry+1).Msg("Retrying memberships fetch")
	}
}

func (u *MembershipsUpdater) fetchAndReset(ctx context.Context, noCache bool, till int64) error {
	if u.isStartingUp() && u.cfg.RequestTimeoutBeforeReady > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.cfg.RequestTimeoutBeforeReady)
		defer cancel()
	}

	m, err := u.fetcher.FetchMemberships(ctx, u.key, controlplane.FetchOptions{NoCache: noCache, Till: till})
	if err != nil {
		return err
	}
	u.setStartingUp(false)

	changed := u.storage.Memberships.Reset(m.MySegments.Names(), changeNumberOf(&m.MySegments))
	if u.storage.LargeMemberships.Reset(m.LargeSegments.Names(), changeNumberOf(&m.LargeSegments)) {
		changed = true
	}
	u.notify(changed, nil)
	return nil
}

func (u *MembershipsUpdater) apply(data *MembershipsData) {
	target := u.storage.Memberships
	if data.Kind == models.TypeMembershipsLSUpdate {
		target = u.storage.LargeMemberships
	}

	changed := target.Apply(data.Added, data.Removed, data.ChangeNumber)
	names := make([]string, 0, len(data.Added)+len(data.Removed))
	names = append(names, data.Added...)
	names = append(names, data.Removed...)
	u.notify(changed, names)
}

// notify signals segments arrived when memberships changed or until the
// first signal went out, unless the split set references no segment.
func (u *MembershipsUpdater) notify(changed bool, names []string) {
	if u.readiness == nil || !u.storage.Splits.UsesSegments() {
		return
	}

	u.mu.Lock()
	emit := changed || !u.notified
	u.notified = true
	u.mu.Unlock()

	if emit {
		u.readiness.Segments().SegmentsArrived(names...)
	}
}

func (u *MembershipsUpdater) isStartingUp() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.startingUp
}

func (u *MembershipsUpdater) setStartingUp(v bool) {
	u.mu.Lock()
	u.startingUp = v
	u.mu.Unlock()
}

func changeNumberOf(l *models.MembershipList) int64 {
	if l.ChangeNumber == nil {
		return -1
	}
	return *l.ChangeNumber
}
