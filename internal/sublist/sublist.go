package sublist

import (
	"sort"
	"sync"
)

// Subscriber receives pushed views for one course at one zoom level.
type Subscriber interface {
	// Push returns true once the subscriber is closed and should be dropped.
	Push(key string, d []byte) bool
	Zoom() int
}

type SublistMap struct {
	mu   *sync.Mutex
	list map[string]*Sublist
}

type Sublist struct {
	key  string
	list map[Subscriber]bool
	mu   *sync.Mutex
}

func NewSublistMap() *SublistMap {
	m := SublistMap{}
	m.mu = &sync.Mutex{}
	m.list = map[string]*Sublist{}
	return &m
}

func (s *SublistMap) GetSublist(key string, create bool) (*Sublist, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.list[key]
	if ok {
		return l, true
	}
	if !create {
		return nil, false
	}
	l = &Sublist{key: key, list: make(map[Subscriber]bool), mu: &sync.Mutex{}}
	s.list[key] = l
	return l, true
}

// Keys returns the courses that currently have subscribers, dropping empty lists.
func (s *SublistMap) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.list))
	for k, l := range s.list {
		if l.Len() == 0 {
			delete(s.list, k)
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *Sublist) Key() string { return s.key }

func (s *Sublist) Subscribe(sub Subscriber) {
	s.mu.Lock()
	s.list[sub] = true
	s.mu.Unlock()
}

func (s *Sublist) Unsubscribe(sub Subscriber) {
	s.mu.Lock()
	delete(s.list, sub)
	s.mu.Unlock()
}

func (s *Sublist) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.list)
}

// Zooms returns the distinct zoom levels in use, ascending.
func (s *Sublist) Zooms() []int {
	s.mu.Lock()
	seen := make(map[int]bool)
	for sub := range s.list {
		seen[sub.Zoom()] = true
	}
	s.mu.Unlock()
	out := make([]int, 0, len(seen))
	for z := range seen {
		out = append(out, z)
	}
	sort.Ints(out)
	return out
}

// SendZoom pushes d to every subscriber at the given zoom.
func (s *Sublist) SendZoom(zoom int, d []byte) {
	s.mu.Lock()
	for sub := range s.list {
		if sub.Zoom() != zoom {
			continue
		}
		if closed := sub.Push(s.key, d); closed {
			delete(s.list, sub)
		}
	}
	s.mu.Unlock()
}

func (s *Sublist) Send(d []byte) {
	s.mu.Lock()
	for sub := range s.list {
		if closed := sub.Push(s.key, d); closed {
			delete(s.list, sub)
		}
	}
	s.mu.Unlock()
}
