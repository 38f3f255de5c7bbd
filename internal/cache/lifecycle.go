package cache

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	apperrors "github.com/kimhsiao/ridelink/backend/internal/errors"
)

// Install precaches the manifest into the shell group.
// Any manifest URL that cannot be fetched with a 2xx fails the install.
func (m *Manager) Install(ctx context.Context) error {
	if err := m.populate(ctx, GroupShell, m.config.Manifest); err != nil {
		return err
	}
	m.installed.Store(true)
	m.logger.Info("cache installed", map[string]interface{}{
		"version":  m.config.Version,
		"manifest": len(m.config.Manifest),
	})
	return nil
}

// Populate fetches each URL and stores it in the shell group.
func (m *Manager) Populate(ctx context.Context, urls []string) error {
	return m.populate(ctx, GroupShell, urls)
}

func (m *Manager) populate(ctx context.Context, logical string, urls []string) error {
	group := m.GroupName(logical)
	for _, raw := range urls {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.resolve(raw), nil)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrInvalid, "bad cache url "+raw, err)
		}
		resp, body, err := m.fetch(req, 0)
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return apperrors.Upstream(resp.StatusCode, fmt.Sprintf("precache %s returned %d", raw, resp.StatusCode))
		}
		m.put(req, group, resp, body)
	}
	return nil
}

// resolve turns a path into an absolute URL on the origin.
func (m *Manager) resolve(raw string) string {
	if m.config.Origin == nil || strings.Contains(raw, "://") {
		return raw
	}
	ref, err := m.config.Origin.Parse(raw)
	if err != nil {
		return raw
	}
	return ref.String()
}

// Activate deletes every group outside the current version's set, trims the
// current groups to their bounds and starts intercepting requests.
func (m *Manager) Activate(ctx context.Context) error {
	known := make(map[string]string, len(m.config.Groups))
	for name := range m.config.Groups {
		known[m.GroupName(name)] = name
	}

	groups, err := m.store.Groups(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "list cache groups", err)
	}

	for _, group := range groups {
		if _, ok := known[group]; ok {
			continue
		}
		if err := m.store.DeleteGroup(ctx, group); err != nil {
			return apperrors.Wrap(apperrors.ErrStorage, "delete stale cache group "+group, err)
		}
		m.logger.Info("deleted stale cache group", map[string]interface{}{"group": group})
	}

	if _, err := m.Trim(ctx); err != nil {
		return err
	}

	m.active.Store(true)
	m.logger.Info("cache activated", map[string]interface{}{"version": m.config.Version})
	return nil
}

// Trim enforces MaxAge and MaxEntries on every current group and returns the
// number of removed entries. Oldest entries go first.
func (m *Manager) Trim(ctx context.Context) (int, error) {
	now := m.now()
	removed := 0

	for name, bounds := range m.config.Groups {
		group := m.GroupName(name)
		entries, err := m.store.Entries(ctx, group)
		if err != nil {
			return removed, apperrors.Wrap(apperrors.ErrStorage, "list cache group "+group, err)
		}

		keep := len(entries)
		for _, info := range entries {
			expired := bounds.MaxAge > 0 && info.Age(now) > bounds.MaxAge
			overflow := bounds.MaxEntries > 0 && keep > bounds.MaxEntries
			if !expired && !overflow {
				continue
			}
			if err := m.store.Delete(ctx, group, info.Key); err != nil {
				return removed, apperrors.Wrap(apperrors.ErrStorage, "evict cache entry", err)
			}
			keep--
			removed++
		}
	}

	if removed > 0 {
		m.logger.Debug("cache trimmed", map[string]interface{}{"removed": removed})
	}
	return removed, nil
}

// ClearAll deletes every group in the store.
func (m *Manager) ClearAll(ctx context.Context) error {
	groups, err := m.store.Groups(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "list cache groups", err)
	}
	for _, group := range groups {
		if err := m.store.DeleteGroup(ctx, group); err != nil {
			return apperrors.Wrap(apperrors.ErrStorage, "delete cache group "+group, err)
		}
	}
	m.logger.Info("all cache groups cleared", map[string]interface{}{"groups": len(groups)})
	return nil
}
