package sublist

import (
	"testing"
)

type mockSub struct {
	zoom   int
	closed bool
	got    int
}

func (m *mockSub) Push(key string, d []byte) bool {
	if m.closed {
		return true
	}
	m.got++
	return false
}

func (m *mockSub) Zoom() int {
	return m.zoom
}

func TestSendZoom(t *testing.T) {
	subs, _ := NewSublistMap().GetSublist("c", true)
	a, b, c := &mockSub{zoom: 10}, &mockSub{zoom: 10}, &mockSub{zoom: 16}
	subs.Subscribe(a)
	subs.Subscribe(b)
	subs.Subscribe(c)
	subs.SendZoom(10, []byte("x"))
	if a.got != 1 || b.got != 1 || c.got != 0 {
		t.Error()
	}
	if z := subs.Zooms(); len(z) != 2 || z[0] != 10 || z[1] != 16 {
		t.Errorf("zooms %v", z)
	}
}

func TestClosedDropped(t *testing.T) {
	subs, _ := NewSublistMap().GetSublist("c", true)
	for i := 0; i < 10; i++ {
		subs.Subscribe(&mockSub{zoom: 1, closed: i%3 == 0})
	}
	subs.Send([]byte("x"))
	if subs.Len() != 6 {
		t.Errorf("len %d", subs.Len())
	}
}

func TestKeysDropsEmpty(t *testing.T) {
	m := NewSublistMap()
	a, _ := m.GetSublist("a", true)
	m.GetSublist("b", true)
	a.Subscribe(&mockSub{})
	if keys := m.Keys(); len(keys) != 1 || keys[0] != "a" {
		t.Errorf("keys %v", keys)
	}
	if _, ok := m.GetSublist("b", false); ok {
		t.Error()
	}
}
