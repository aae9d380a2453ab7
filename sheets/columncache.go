package sheets

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// ColumnCache maps a worksheet's logical column names to their
// positional index, built once from the header row and invalidated
// wholesale when the upstream schema might have changed. Column
// lookups are name-normalized (lowercased, spaces and underscores
// stripped) so "Tag Spool", "tag_spool" and "TAGSPOOL" all resolve to
// the same index.
type ColumnCache struct {
	mu   sync.RWMutex
	gw   *Gateway
	cols map[string]map[string]int // worksheet -> normalized name -> index
}

// NewColumnCache creates an empty cache backed by gw.
func NewColumnCache(gw *Gateway) *ColumnCache {
	return &ColumnCache{
		gw:   gw,
		cols: make(map[string]map[string]int),
	}
}

// Index returns the column index for name within worksheet, loading
// and caching the header row on first access.
func (c *ColumnCache) Index(ctx context.Context, worksheet, name string) (int, error) {
	key := normalizeColumnName(name)

	c.mu.RLock()
	if m, ok := c.cols[worksheet]; ok {
		idx, found := m[key]
		c.mu.RUnlock()
		if found {
			return idx, nil
		}
		return 0, fmt.Errorf("sheets: unknown column %q in %s", name, worksheet)
	}
	c.mu.RUnlock()

	if err := c.load(ctx, worksheet); err != nil {
		return 0, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	idx, ok := c.cols[worksheet][key]
	if !ok {
		return 0, fmt.Errorf("sheets: unknown column %q in %s", name, worksheet)
	}
	return idx, nil
}

func (c *ColumnCache) load(ctx context.Context, worksheet string) error {
	header, err := c.gw.HeaderRow(ctx, worksheet)
	if err != nil {
		return fmt.Errorf("sheets: load header for %s: %w", worksheet, err)
	}

	m := make(map[string]int, len(header))
	for i, h := range header {
		m[normalizeColumnName(h)] = i
	}

	c.mu.Lock()
	c.cols[worksheet] = m
	c.mu.Unlock()
	return nil
}

// Invalidate drops the cached header map for worksheet, forcing the
// next Index call to reload it. Called from the admin cache endpoint;
// nothing in the read or write path calls it on its own.
func (c *ColumnCache) Invalidate(worksheet string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cols, worksheet)
}

// InvalidateAll drops every cached worksheet's header map.
func (c *ColumnCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cols = make(map[string]map[string]int)
}

func normalizeColumnName(name string) string {
	s := strings.ToLower(name)
	s = strings.ReplaceAll(s, "_", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}
