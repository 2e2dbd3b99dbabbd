// Package differ turns batches of mutation records from the controller's live
// tree into DOM diff payloads.
package differ

import (
	"log/slog"

	"github.com/hazyhaar/shadow/dom"
	"github.com/hazyhaar/shadow/shadow/internal/idmap"
	"github.com/hazyhaar/shadow/shadow/internal/serializer"
	"github.com/hazyhaar/shadow/shadow/protocol"
)

// Config configures a Producer.
type Config struct {
	IDs        *idmap.Map
	Serializer *serializer.Serializer
	// Emit receives each diff in the order the records were observed.
	Emit   func(protocol.Payload)
	Logger *slog.Logger
}

// Producer classifies mutation records into ATTRIBUTE_CHANGE,
// REMOVED_ELEMENT_FROM_DOM and DOM_CHANGE payloads.
type Producer struct {
	ids    *idmap.Map
	ser    *serializer.Serializer
	emit   func(protocol.Payload)
	logger *slog.Logger
}

// New creates a Producer.
func New(cfg Config) *Producer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Producer{ids: cfg.IDs, ser: cfg.Serializer, emit: cfg.Emit, logger: cfg.Logger}
}

// batch tracks the containers refreshed while handling one batch. A refresh
// serializes the final state, so records under a refreshed container are
// already carried by it.
type batch struct {
	refreshed []*dom.Node
	// prior holds the ids descendants of refreshed containers had before the
	// refresh gave them fresh ones.
	prior map[*dom.Node]protocol.NodeID
}

func (b *batch) covered(n *dom.Node) bool {
	for _, r := range b.refreshed {
		if r.Contains(n) {
			return true
		}
	}
	return false
}

// moved reports whether n left its old parent but sits, connected, inside a
// container refreshed in this batch.
func (b *batch) moved(n *dom.Node) bool {
	return n.IsConnected() && b.covered(n)
}

// Handle processes one delivered batch. Quiet records are dropped.
func (p *Producer) Handle(recs []dom.MutationRecord) {
	b := &batch{prior: make(map[*dom.Node]protocol.NodeID)}
	covered := b.covered

	for _, rec := range recs {
		if rec.Quiet || rec.Target.IsChrome() {
			continue
		}
		switch rec.Type {
		case dom.Attributes:
			if covered(rec.Target) {
				continue
			}
			p.attribute(rec)

		case dom.CharacterData:
			if rec.HadOldValue && rec.OldValue == rec.Value {
				continue
			}
			parent := rec.Target.Parent()
			if parent == nil || covered(parent) {
				continue
			}
			p.refreshIn(b, parent)

		case dom.ChildList:
			added := serializable(rec.Added)
			if len(added) == 0 {
				p.removed(b, rec)
				continue
			}
			for _, n := range rec.Removed {
				if !b.moved(n) {
					p.ids.RetireSubtree(n)
				}
			}
			if covered(rec.Target) {
				continue
			}
			p.refreshIn(b, rec.Target)
		}
	}
}

func serializable(nodes []*dom.Node) []*dom.Node {
	var out []*dom.Node
	for _, n := range nodes {
		if serializer.Serializable(n) {
			out = append(out, n)
		}
	}
	return out
}

func (p *Producer) attribute(rec dom.MutationRecord) {
	if !rec.AttributeRemoved && rec.HadOldValue && rec.OldValue == rec.Value {
		return
	}
	id, ok := p.ids.ID(rec.Target)
	if !ok {
		return
	}
	if !p.ser.Allowed(rec.AttributeName) {
		return
	}
	change := protocol.AttributeChange{ID: id, Content: map[string]string{}}
	if rec.AttributeRemoved {
		change.Removed = []string{rec.AttributeName}
	} else if v, keep := p.ser.Attribute(rec.AttributeName, rec.Value); keep {
		change.Content[rec.AttributeName] = v
	} else {
		// Emptied attributes are not carried in snapshots either.
		change.Removed = []string{rec.AttributeName}
	}
	p.emit(change)
}

func (p *Producer) removed(b *batch, rec dom.MutationRecord) {
	if len(rec.Removed) == 0 {
		return
	}
	id, known := p.ids.ID(rec.Target)
	var children []protocol.NodeID
	for _, n := range rec.Removed {
		if b.moved(n) {
			// The refresh re-registered n under a fresh id. The peer still
			// holds it under the old one.
			if old, ok := b.prior[n]; ok {
				children = append(children, old)
			}
			continue
		}
		if cid, ok := p.ids.ID(n); ok {
			children = append(children, cid)
		}
		p.ids.RetireSubtree(n)
	}
	if !known || len(children) == 0 || b.covered(rec.Target) {
		return
	}
	p.emit(protocol.Removed{ID: id, ChildrenIDs: children})
}

// refreshIn refreshes container, remembering the ids its descendants held.
func (p *Producer) refreshIn(b *batch, container *dom.Node) {
	container.Walk(func(n *dom.Node) bool {
		if n == container {
			return true
		}
		if id, ok := p.ids.ID(n); ok {
			if _, seen := b.prior[n]; !seen {
				b.prior[n] = id
			}
		}
		return true
	})
	if p.refresh(container) {
		b.refreshed = append(b.refreshed, container)
	}
}

// refresh re-serializes container under its existing id and emits it.
func (p *Producer) refresh(container *dom.Node) bool {
	if !container.IsConnected() {
		return false
	}
	id, ok := p.ids.ID(container)
	if !ok {
		p.logger.Debug("differ: container has no id", "node", container.String())
		return false
	}
	snap, ok := p.ser.Serialize(container, serializer.RefreshRoot)
	if !ok {
		return false
	}
	p.emit(protocol.DOMChange{ID: id, Content: snap})
	return true
}
