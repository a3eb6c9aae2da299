package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aretw0/gridsession/pkg/session"
)

// ListSessions returns the sorted IDs of the stored sessions.
func (a *App) ListSessions(ctx context.Context) ([]string, error) {
	ids, err := a.Store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// InspectSession loads a session for display.
// Expired sessions are removed and reported as not found.
func (a *App) InspectSession(ctx context.Context, id string) (*session.Snapshot, error) {
	s, err := a.Repository.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load session '%s': %w", id, err)
	}
	return s.Snapshot()
}

// FindSessions returns the sessions of a principal ordered by ID.
func (a *App) FindSessions(ctx context.Context, principal string) ([]*session.Snapshot, error) {
	found, err := a.Repository.FindByPrincipalName(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("failed to find sessions of '%s': %w", principal, err)
	}
	snaps := make([]*session.Snapshot, 0, len(found))
	for _, s := range found {
		snap, err := s.Snapshot()
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })
	return snaps, nil
}

// RemoveSessions deletes every ID, continuing past failures.
// removed reports the IDs that were deleted.
func (a *App) RemoveSessions(ctx context.Context, ids ...string) (removed []string, err error) {
	var errs []error
	for _, id := range ids {
		if err := a.Repository.DeleteByID(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove '%s': %w", id, err))
			continue
		}
		removed = append(removed, id)
	}
	return removed, errors.Join(errs...)
}
