package dom

import "slices"

// MutationType classifies a MutationRecord.
type MutationType int

const (
	ChildList MutationType = iota
	Attributes
	CharacterData
)

func (t MutationType) String() string {
	switch t {
	case ChildList:
		return "childList"
	case Attributes:
		return "attributes"
	case CharacterData:
		return "characterData"
	default:
		return "unknown"
	}
}

// MutationRecord describes one change to a connected node: the changed
// container with its added/removed direct children, an attribute write or a
// character data write.
type MutationRecord struct {
	Type   MutationType
	Target *Node

	Added   []*Node
	Removed []*Node

	AttributeName    string
	AttributeRemoved bool

	OldValue    string
	HadOldValue bool
	Value       string

	// Quiet is set on records produced inside Document.Quiet. Observers that
	// forward changes to a peer drop them.
	Quiet bool
}

type observer struct {
	fn func([]MutationRecord)
}

// Observe subscribes fn to mutation records of this document. Records are
// queued and handed over in order by DeliverMutations.
func (d *Document) Observe(fn func([]MutationRecord)) (cancel func()) {
	o := &observer{fn: fn}
	d.observers = append(d.observers, o)
	return func() {
		if idx := slices.Index(d.observers, o); idx >= 0 {
			d.observers = slices.Delete(d.observers, idx, idx+1)
		}
		if len(d.observers) == 0 {
			d.pending = nil
		}
	}
}

// setMutationNotifier installs fn, called once each time the pending queue
// goes from empty to non-empty. Event loops use it to schedule delivery.
func (d *Document) setMutationNotifier(fn func()) { d.notify = fn }

// Quiet runs fn and marks every mutation it causes as quiet.
func (d *Document) Quiet(fn func()) {
	d.quietDepth++
	defer func() { d.quietDepth-- }()
	fn()
}

// Pending reports how many records wait for delivery.
func (d *Document) Pending() int { return len(d.pending) }

// TakeRecords drains the queue without notifying observers.
func (d *Document) TakeRecords() []MutationRecord {
	recs := d.pending
	d.pending = nil
	return recs
}

// DeliverMutations hands all queued records to every observer.
func (d *Document) DeliverMutations() {
	for len(d.pending) > 0 {
		recs := d.TakeRecords()
		for _, o := range slices.Clone(d.observers) {
			o.fn(recs)
		}
	}
}

func (d *Document) record(r MutationRecord) {
	if d == nil || len(d.observers) == 0 || !r.Target.IsConnected() {
		return
	}
	r.Quiet = d.quietDepth > 0
	d.pending = append(d.pending, r)
	if len(d.pending) == 1 && d.notify != nil {
		d.notify()
	}
}
