package capture

import (
	"slices"
	"time"

	"github.com/hazyhaar/shadow/dom"
	"github.com/hazyhaar/shadow/shadow/internal/idmap"
	"github.com/hazyhaar/shadow/shadow/protocol"
)

type styleDelta struct {
	node  *dom.Node
	id    protocol.NodeID
	prior map[string]string
}

// StyleTransfer reproduces hover-dependent style on the peer. After the
// pointer dwells on a node, the computed style of the node and its ancestors
// is compared with the pre-hover baseline and the differences are sent as
// STYLE payloads. Leaving the node restores the prior inline values locally
// and tells the peer to do the same.
type StyleTransfer struct {
	doc   *dom.Document
	ids   *idmap.Map
	sched Scheduler
	dwell time.Duration
	out   Sender

	target   *dom.Node
	chain    []*dom.Node
	baseline []map[string]string
	timer    Timer
	seq      int
	applied  []styleDelta
}

// NewStyleTransfer creates a StyleTransfer for doc.
func NewStyleTransfer(doc *dom.Document, ids *idmap.Map, sched Scheduler, dwell time.Duration, out Sender) *StyleTransfer {
	return &StyleTransfer{doc: doc, ids: ids, sched: sched, dwell: dwell, out: out}
}

// Enter starts a dwell on n.
func (s *StyleTransfer) Enter(n *dom.Node) {
	if n == nil || n.Type != dom.ElementNode || n == s.target {
		return
	}
	if s.target != nil {
		s.Exit(s.target)
	}
	s.chain = s.chain[:0]
	for cur := n; cur != nil; cur = cur.Parent() {
		if cur.Type == dom.ElementNode {
			s.chain = append(s.chain, cur)
		}
	}
	s.baseline = s.baseline[:0]
	for _, e := range s.chain {
		s.baseline = append(s.baseline, s.doc.ComputedStyle(e))
	}
	s.doc.SetHover(n)
	s.target = n

	s.seq++
	seq := s.seq
	s.timer = s.sched.AfterFunc(s.dwell, func() {
		if s.seq == seq && s.target == n {
			s.transfer()
		}
	})
}

// Hovered returns the node currently dwelled on, nil when none.
func (s *StyleTransfer) Hovered() *dom.Node { return s.target }

func (s *StyleTransfer) transfer() {
	s.timer = nil
	for i, e := range s.chain {
		id, ok := s.ids.ID(e)
		if !ok {
			continue
		}
		now := s.doc.ComputedStyle(e)
		deltas := diffStyle(s.baseline[i], now)
		if len(deltas) == 0 {
			continue
		}
		prior := make(map[string]string, len(deltas))
		for k := range deltas {
			v, _ := e.StyleProperty(k)
			prior[k] = v
		}
		s.applied = append(s.applied, styleDelta{node: e, id: id, prior: prior})
		s.out.Send(protocol.Style{ID: id, Content: deltas})
	}
}

func diffStyle(before, after map[string]string) map[string]string {
	out := make(map[string]string)
	for k, v := range after {
		if before[k] != v {
			out[k] = v
		}
	}
	for k := range before {
		if _, ok := after[k]; !ok {
			out[k] = ""
		}
	}
	return out
}

// Exit ends the dwell on n. Nothing happens when n is not the dwelled node.
func (s *StyleTransfer) Exit(n *dom.Node) {
	if n == nil || n != s.target {
		return
	}
	s.restore(true)
}

// Close restores local values without notifying the peer.
func (s *StyleTransfer) Close() {
	s.restore(false)
}

func (s *StyleTransfer) restore(notify bool) {
	s.seq++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.target != nil && s.doc.Hovered() == s.target {
		s.doc.SetHover(nil)
	}
	s.target = nil
	applied := slices.Clone(s.applied)
	s.applied = s.applied[:0]
	for _, a := range applied {
		s.doc.Quiet(func() {
			for _, k := range sortedKeys(a.prior) {
				a.node.SetStyleProperty(k, a.prior[k])
			}
		})
		if notify {
			s.out.Send(protocol.Style{ID: a.id, Restore: true, Content: a.prior})
		}
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
