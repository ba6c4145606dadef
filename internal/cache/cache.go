// Package cache is a bounded in-memory cache in front of the entity store.
//
// Five maps (single workflow, workflow lists, single execution, execution
// lists, statistics) share one mutex, so cross-map invalidation never
// interleaves with a get or put. Entries expire after a fixed TTL and a full
// map evicts an entry with the lowest access count before inserting.
package cache

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/pandeptwidyaop/n8n-monitor/internal/models"
)

const (
	DefaultTTL      = 5 * time.Minute
	DefaultCapacity = 100
)

// Kind identifies one of the cache maps.
type Kind int

const (
	KindWorkflow Kind = iota
	KindWorkflowList
	KindExecution
	KindExecutionList
	KindStats
)

var kindNames = [...]string{"workflow", "workflow_list", "execution", "execution_list", "stats"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

type entry[V any] struct {
	value       V
	createdAt   time.Time
	accessCount int
}

// table is one capacity-bounded map. Callers hold Cache.mu.
type table[V any] struct {
	entries map[string]*entry[V]
}

func newTable[V any]() *table[V] {
	return &table[V]{entries: make(map[string]*entry[V])}
}

func (t *table[V]) get(c *Cache, key string) (V, bool) {
	var zero V
	e, ok := t.entries[key]
	if !ok {
		c.misses++
		return zero, false
	}
	if c.expired(e.createdAt) {
		delete(t.entries, key)
		c.misses++
		return zero, false
	}
	e.accessCount++
	c.hits++
	return e.value, true
}

func (t *table[V]) put(c *Cache, key string, value V) {
	now := c.now()
	if e, ok := t.entries[key]; ok {
		e.value = value
		e.createdAt = now
		e.accessCount++
		return
	}
	if len(t.entries) >= c.capacity {
		t.evictOne()
		c.evictions++
	}
	t.entries[key] = &entry[V]{value: value, createdAt: now, accessCount: 1}
}

// evictOne removes an entry with the minimal access count. Ties are broken
// by map iteration order.
func (t *table[V]) evictOne() {
	var victim string
	minCount := -1
	for key, e := range t.entries {
		if minCount == -1 || e.accessCount < minCount {
			victim, minCount = key, e.accessCount
		}
	}
	if minCount != -1 {
		delete(t.entries, victim)
	}
}

func (t *table[V]) accessCount(c *Cache, key string) (int, bool) {
	e, ok := t.entries[key]
	if !ok || c.expired(e.createdAt) {
		return 0, false
	}
	return e.accessCount, true
}

func (t *table[V]) delete(key string) {
	delete(t.entries, key)
}

func (t *table[V]) clear() {
	t.entries = make(map[string]*entry[V])
}

func (t *table[V]) sweep(c *Cache) int {
	removed := 0
	for key, e := range t.entries {
		if c.expired(e.createdAt) {
			delete(t.entries, key)
			removed++
		}
	}
	return removed
}

func (t *table[V]) len() int {
	return len(t.entries)
}

// Cache holds the five entity maps.
type Cache struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	now      func() time.Time

	workflows      *table[models.Workflow]
	workflowLists  *table[[]models.Workflow]
	executions     *table[models.Execution]
	executionLists *table[[]models.Execution]
	stats          *table[[]models.ExecutionStats]

	hits, misses, evictions uint64
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache. Non-positive ttl or capacity select the defaults.
func New(ttl time.Duration, capacity int, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &Cache{
		ttl:            ttl,
		capacity:       capacity,
		now:            time.Now,
		workflows:      newTable[models.Workflow](),
		workflowLists:  newTable[[]models.Workflow](),
		executions:     newTable[models.Execution](),
		executionLists: newTable[[]models.Execution](),
		stats:          newTable[[]models.ExecutionStats](),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) expired(createdAt time.Time) bool {
	return c.now().Sub(createdAt) > c.ttl
}

func (c *Cache) GetWorkflow(id string) (models.Workflow, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.workflows.get(c, id)
}

func (c *Cache) PutWorkflow(id string, w models.Workflow) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workflows.put(c, id, w)
}

// GetWorkflowList returns a copy of the cached list. List values are copied
// on put as well, so callers may modify what they pass in or get back.
func (c *Cache) GetWorkflowList(key string) ([]models.Workflow, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list, ok := c.workflowLists.get(c, key)
	return slices.Clone(list), ok
}

func (c *Cache) PutWorkflowList(key string, list []models.Workflow) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workflowLists.put(c, key, slices.Clone(list))
}

func (c *Cache) GetExecution(id string) (models.Execution, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.executions.get(c, id)
}

func (c *Cache) PutExecution(id string, e models.Execution) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executions.put(c, id, e)
}

func (c *Cache) GetExecutionList(key string) ([]models.Execution, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list, ok := c.executionLists.get(c, key)
	return slices.Clone(list), ok
}

func (c *Cache) PutExecutionList(key string, list []models.Execution) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executionLists.put(c, key, slices.Clone(list))
}

func (c *Cache) GetStats(key string) ([]models.ExecutionStats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats, ok := c.stats.get(c, key)
	return slices.Clone(stats), ok
}

func (c *Cache) PutStats(key string, stats []models.ExecutionStats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.put(c, key, slices.Clone(stats))
}

// AccessCount reports an entry's access count without touching it.
func (c *Cache) AccessCount(kind Kind, key string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch kind {
	case KindWorkflow:
		return c.workflows.accessCount(c, key)
	case KindWorkflowList:
		return c.workflowLists.accessCount(c, key)
	case KindExecution:
		return c.executions.accessCount(c, key)
	case KindExecutionList:
		return c.executionLists.accessCount(c, key)
	case KindStats:
		return c.stats.accessCount(c, key)
	}
	return 0, false
}

// Invalidate removes a single entry.
func (c *Cache) Invalidate(kind Kind, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch kind {
	case KindWorkflow:
		c.workflows.delete(key)
	case KindWorkflowList:
		c.workflowLists.delete(key)
	case KindExecution:
		c.executions.delete(key)
	case KindExecutionList:
		c.executionLists.delete(key)
	case KindStats:
		c.stats.delete(key)
	}
}

// InvalidateRelated clears the list-shaped maps derived from kind. A write
// to any workflow clears every workflow list; a write to any execution
// clears execution lists and statistics.
func (c *Cache) InvalidateRelated(kind Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch kind {
	case KindWorkflow, KindWorkflowList:
		c.workflowLists.clear()
	case KindExecution, KindExecutionList, KindStats:
		c.executionLists.clear()
		c.stats.clear()
	}
}

// InvalidateAll empties every map.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workflows.clear()
	c.workflowLists.clear()
	c.executions.clear()
	c.executionLists.clear()
	c.stats.clear()
}

// Sweep removes expired entries from every map and returns how many.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.workflows.sweep(c) +
		c.workflowLists.sweep(c) +
		c.executions.sweep(c) +
		c.executionLists.sweep(c) +
		c.stats.sweep(c)
}

// Stats is a point-in-time view of cache occupancy.
type Stats struct {
	Sizes     map[string]int `json:"sizes"`
	Total     int            `json:"total"`
	Capacity  int            `json:"capacity"`
	TTL       string         `json:"ttl"`
	Hits      uint64         `json:"hits"`
	Misses    uint64         `json:"misses"`
	Evictions uint64         `json:"evictions"`
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	sizes := map[string]int{
		KindWorkflow.String():      c.workflows.len(),
		KindWorkflowList.String():  c.workflowLists.len(),
		KindExecution.String():     c.executions.len(),
		KindExecutionList.String(): c.executionLists.len(),
		KindStats.String():         c.stats.len(),
	}
	total := 0
	for _, n := range sizes {
		total += n
	}
	return Stats{
		Sizes:     sizes,
		Total:     total,
		Capacity:  c.capacity,
		TTL:       c.ttl.String(),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// WorkflowListKey is the list cache key for an active filter and limit.
func WorkflowListKey(active bool, limit int) string {
	return fmt.Sprintf("workflows:active=%t:limit=%d", active, limit)
}

// ExecutionListKey is the list cache key for a workflow's executions.
func ExecutionListKey(workflowID string, limit int) string {
	return fmt.Sprintf("executions:%s:limit=%d", workflowID, limit)
}

// StatsKey is the statistics cache key for a scope (a workflow id or
// "overall") and window start.
func StatsKey(scope, since string) string {
	return "stats:" + scope + ":" + since
}
