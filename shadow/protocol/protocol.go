// Package protocol defines the messages exchanged by shadow session peers:
// the envelope categories and subtypes, the node snapshot schema, the sealed
// payload sum type with its Visitor, and the codecs that put envelopes on the
// wire.
//
// On the wire every message is {"type": Category, "data": ...}. INPUT, MOUSE,
// DOM and WINDOW data is {"type": Subtype, "content": ...}; SELECTION data is
// the selection object itself; STYLE data is {id, restore?, content}.
package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownCategory is returned when a message carries a category outside
	// the known set.
	ErrUnknownCategory = errors.New("protocol: unknown category")
	// ErrUnknownSubtype is returned when a message carries an unknown subtype
	// for a known category.
	ErrUnknownSubtype = errors.New("protocol: unknown subtype")
)

// Category is the top-level envelope kind.
type Category int

const (
	CategoryInput Category = iota
	CategoryMouse
	CategoryDOM
	CategorySelection
	CategoryStyle
	CategoryWindow
)

func (c Category) String() string {
	switch c {
	case CategoryInput:
		return "INPUT"
	case CategoryMouse:
		return "MOUSE"
	case CategoryDOM:
		return "DOM"
	case CategorySelection:
		return "SELECTION"
	case CategoryStyle:
		return "STYLE"
	case CategoryWindow:
		return "WINDOW"
	default:
		return fmt.Sprintf("CATEGORY(%d)", int(c))
	}
}

// InputSubtype enumerates form control interactions.
type InputSubtype int

const (
	InputValue InputSubtype = iota
	InputBlur
	InputChange
	InputKeyPress
	InputKeyDown
	InputKeyUp
)

// EventKind returns the dom event kind the subtype replays as.
func (s InputSubtype) EventKind() string {
	switch s {
	case InputValue:
		return "input"
	case InputBlur:
		return "blur"
	case InputChange:
		return "change"
	case InputKeyPress:
		return "keypress"
	case InputKeyDown:
		return "keydown"
	case InputKeyUp:
		return "keyup"
	default:
		return ""
	}
}

func (s InputSubtype) valid() bool { return s >= InputValue && s <= InputKeyUp }

// MouseSubtype enumerates pointer interactions.
type MouseSubtype int

const (
	MouseClick MouseSubtype = iota
	MouseEnter
	MouseOut
	MouseOver
	MouseMove
	MousePosition
	MouseOutOfScreen
)

// EventKind returns the dom event kind for subtypes that map to one.
func (s MouseSubtype) EventKind() string {
	switch s {
	case MouseClick:
		return "click"
	case MouseEnter:
		return "mouseenter"
	case MouseOut:
		return "mouseout"
	case MouseOver:
		return "mouseover"
	case MouseMove:
		return "mousemove"
	default:
		return ""
	}
}

func (s MouseSubtype) valid() bool { return s >= MouseClick && s <= MouseOutOfScreen }

// DOMSubtype enumerates structural messages.
type DOMSubtype int

const (
	DOMChangeType DOMSubtype = iota
	DOMRemovedType
	DOMAttributeType
	DOMSnapshotType
)

// WindowSubtype enumerates window level messages.
type WindowSubtype int

const (
	WindowResize WindowSubtype = iota
	WindowScroll
	WindowLoaded
	WindowChangeURL
	WindowReload
)

// Envelope is one message. Envelopes are values and are never modified after
// being handed to a codec.
type Envelope struct {
	Payload Payload
}

// New wraps p in an envelope.
func New(p Payload) Envelope { return Envelope{Payload: p} }

// Category returns the payload's category.
func (e Envelope) Category() Category { return e.Payload.Category() }

// Accept hands the payload to v.
func (e Envelope) Accept(v Visitor) { e.Payload.Accept(v) }

func (e Envelope) String() string {
	if e.Payload == nil {
		return "envelope(nil)"
	}
	return e.Payload.Category().String() + "/" + e.Payload.Kind()
}
