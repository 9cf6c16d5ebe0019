package course

import (
	"context"
	"sync"
)

// Source is the read side of a course store.
type Source interface {
	LoadCourse(ctx context.Context, courseID string) (Definition, error)
}

// Cache loads each course once and hands out the shared immutable value.
// Failed loads are not cached so a repaired store is picked up on the next call.
type Cache struct {
	src  Source
	mu   sync.Mutex
	list map[string]*entry
}

type entry struct {
	once   sync.Once
	course *Course
	err    error
	ready  bool // guarded by Cache.mu
}

func NewCache(src Source) *Cache {
	return &Cache{src: src, list: make(map[string]*entry)}
}

func (c *Cache) Get(ctx context.Context, courseID string) (*Course, error) {
	c.mu.Lock()
	e, ok := c.list[courseID]
	if !ok {
		e = &entry{}
		c.list[courseID] = e
	}
	c.mu.Unlock()

	e.once.Do(func() {
		def, err := c.src.LoadCourse(ctx, courseID)
		if err != nil {
			e.err = err
			return
		}
		e.course, e.err = New(def)
	})
	c.mu.Lock()
	defer c.mu.Unlock()
	if e.err != nil {
		if c.list[courseID] == e {
			delete(c.list, courseID)
		}
		return nil, e.err
	}
	e.ready = true
	return e.course, nil
}

// Loaded returns the ids of courses currently held.
func (c *Cache) Loaded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.list))
	for id, e := range c.list {
		if e.ready {
			ids = append(ids, id)
		}
	}
	return ids
}
