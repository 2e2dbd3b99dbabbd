// Package idmap associates protocol node ids with live nodes for one session.
package idmap

import (
	"github.com/hazyhaar/shadow/dom"
	"github.com/hazyhaar/shadow/shadow/protocol"
)

// Allocator hands out increasing node ids. It is never rewound, so ids stay
// unique for the session even across full re-snapshots.
type Allocator struct {
	next protocol.NodeID
}

// Next returns a fresh id.
func (a *Allocator) Next() protocol.NodeID {
	id := a.next
	a.next++
	return id
}

// Peek returns the id the next call to Next will return.
func (a *Allocator) Peek() protocol.NodeID { return a.next }

// Map is a bidirectional id <-> node index. Not safe for concurrent use.
type Map struct {
	byID   map[protocol.NodeID]*dom.Node
	byNode map[*dom.Node]protocol.NodeID
}

// New returns an empty map.
func New() *Map {
	return &Map{
		byID:   make(map[protocol.NodeID]*dom.Node),
		byNode: make(map[*dom.Node]protocol.NodeID),
	}
}

// Set associates id with n. A previous id of n and a previous node at id are
// both dropped.
func (m *Map) Set(id protocol.NodeID, n *dom.Node) {
	if old, ok := m.byNode[n]; ok && old != id {
		delete(m.byID, old)
	}
	if prev, ok := m.byID[id]; ok && prev != n {
		delete(m.byNode, prev)
	}
	m.byID[id] = n
	m.byNode[n] = id
}

// Lookup returns the node registered under id.
func (m *Map) Lookup(id protocol.NodeID) (*dom.Node, bool) {
	n, ok := m.byID[id]
	return n, ok
}

// ID returns the id registered for n.
func (m *Map) ID(n *dom.Node) (protocol.NodeID, bool) {
	id, ok := m.byNode[n]
	return id, ok
}

// Delete drops id and its node.
func (m *Map) Delete(id protocol.NodeID) {
	if n, ok := m.byID[id]; ok {
		delete(m.byNode, n)
		delete(m.byID, id)
	}
}

// RetireSubtree drops n and every descendant of n, returning the retired ids
// in preorder.
func (m *Map) RetireSubtree(n *dom.Node) []protocol.NodeID {
	var retired []protocol.NodeID
	n.Walk(func(c *dom.Node) bool {
		if id, ok := m.byNode[c]; ok {
			delete(m.byNode, c)
			delete(m.byID, id)
			retired = append(retired, id)
		}
		return true
	})
	return retired
}

// RetireChildren drops the ids of every descendant of n, keeping n itself.
func (m *Map) RetireChildren(n *dom.Node) []protocol.NodeID {
	var retired []protocol.NodeID
	for _, c := range n.Children() {
		retired = append(retired, m.RetireSubtree(c)...)
	}
	return retired
}

// Reset empties the map.
func (m *Map) Reset() {
	clear(m.byID)
	clear(m.byNode)
}

// Len returns the number of registered ids.
func (m *Map) Len() int { return len(m.byID) }
