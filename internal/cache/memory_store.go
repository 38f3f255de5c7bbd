package cache

import (
	"context"
	"sort"
	"sync"

	"github.com/kimhsiao/ridelink/backend/internal/models"
)

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu     sync.RWMutex
	groups map[string]map[string]*models.CacheEntry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{groups: make(map[string]map[string]*models.CacheEntry)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, group, key string) (*models.CacheEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.groups[group][key]
	if !ok {
		return nil, nil
	}
	copy := *entry
	return &copy, nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, entry *models.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, ok := s.groups[entry.Group]
	if !ok {
		entries = make(map[string]*models.CacheEntry)
		s.groups[entry.Group] = entries
	}
	copy := *entry
	entries[entry.Key] = &copy
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, group, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.groups[group], key)
	if len(s.groups[group]) == 0 {
		delete(s.groups, group)
	}
	return nil
}

// Entries implements Store.
func (s *MemoryStore) Entries(_ context.Context, group string) ([]EntryInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]EntryInfo, 0, len(s.groups[group]))
	for key, entry := range s.groups[group] {
		infos = append(infos, EntryInfo{Key: key, StoredAt: entry.StoredAt})
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].StoredAt == infos[j].StoredAt {
			return infos[i].Key < infos[j].Key
		}
		return infos[i].StoredAt < infos[j].StoredAt
	})
	return infos, nil
}

// Groups implements Store.
func (s *MemoryStore) Groups(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.groups))
	for name := range s.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// DeleteGroup implements Store.
func (s *MemoryStore) DeleteGroup(_ context.Context, group string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.groups, group)
	return nil
}
