package protocol

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

// Codec turns envelopes into bytes and back.
type Codec interface {
	// Name is the identifier accepted by CodecByName.
	Name() string
	// Binary reports whether encoded messages are not valid UTF-8 text.
	Binary() bool
	Marshal(Envelope) ([]byte, error)
	Unmarshal([]byte) (Envelope, error)
}

// Codecs shipped with the package. JSON is the default and the only one the
// browser reference peers speak.
var (
	JSON Codec = jsonCodec{}
	CBOR Codec = cborCodec{}
)

// CodecByName resolves "json", "cbor", or either with a "+zstd" suffix.
func CodecByName(name string) (Codec, error) {
	base, zst := strings.CutSuffix(strings.ToLower(strings.TrimSpace(name)), "+zstd")
	var c Codec
	switch base {
	case "", "json":
		c = JSON
	case "cbor":
		c = CBOR
	default:
		return nil, fmt.Errorf("protocol: unknown codec %q", name)
	}
	if zst {
		c = Compressed(c)
	}
	return c, nil
}

// --- wire layout ---

type wire[R any] struct {
	Type Category `json:"type"`
	Data R        `json:"data"`
}

type tagged[R any] struct {
	Type    int `json:"type"`
	Content R   `json:"content"`
}

func sub[T ~int](t T, content any) tagged[any] {
	return tagged[any]{Type: int(t), Content: content}
}

func toWire(e Envelope) (wire[any], error) {
	switch p := e.Payload.(type) {
	case Input:
		if !p.Subtype.valid() {
			return wire[any]{}, fmt.Errorf("%w: input %d", ErrUnknownSubtype, p.Subtype)
		}
		return wire[any]{Type: CategoryInput, Data: sub(p.Subtype, p)}, nil
	case Mouse:
		if !p.Subtype.valid() {
			return wire[any]{}, fmt.Errorf("%w: mouse %d", ErrUnknownSubtype, p.Subtype)
		}
		return wire[any]{Type: CategoryMouse, Data: sub(p.Subtype, p)}, nil
	case DOMChange:
		return wire[any]{Type: CategoryDOM, Data: sub(DOMChangeType, p)}, nil
	case Removed:
		if p.ChildrenIDs == nil {
			p.ChildrenIDs = []NodeID{}
		}
		return wire[any]{Type: CategoryDOM, Data: sub(DOMRemovedType, p)}, nil
	case AttributeChange:
		if p.Content == nil {
			p.Content = map[string]string{}
		}
		return wire[any]{Type: CategoryDOM, Data: sub(DOMAttributeType, p)}, nil
	case Snapshot:
		return wire[any]{Type: CategoryDOM, Data: sub(DOMSnapshotType, p)}, nil
	case Selection:
		return wire[any]{Type: CategorySelection, Data: p}, nil
	case Style:
		if p.Content == nil {
			p.Content = map[string]string{}
		}
		return wire[any]{Type: CategoryStyle, Data: p}, nil
	case Resize:
		return wire[any]{Type: CategoryWindow, Data: sub(WindowResize, p)}, nil
	case Scroll:
		return wire[any]{Type: CategoryWindow, Data: sub(WindowScroll, p)}, nil
	case Loaded:
		return wire[any]{Type: CategoryWindow, Data: sub(WindowLoaded, p.Href)}, nil
	case ChangeURL:
		return wire[any]{Type: CategoryWindow, Data: sub(WindowChangeURL, p.URL)}, nil
	case Reload:
		return wire[any]{Type: CategoryWindow, Data: sub(WindowReload, p.URL)}, nil
	case nil:
		return wire[any]{}, fmt.Errorf("protocol: encode: nil payload")
	default:
		return wire[any]{}, fmt.Errorf("%w: %T", ErrUnknownCategory, p)
	}
}

type unmarshalFunc func([]byte, any) error

// fromWire decodes with R as the deferred-decoding raw type of the format
// (json.RawMessage, cbor.RawMessage).
func fromWire[R ~[]byte](data []byte, unmarshal unmarshalFunc) (Envelope, error) {
	var env wire[R]
	if err := unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("protocol: decode envelope: %w", err)
	}
	switch env.Type {
	case CategorySelection:
		var p Selection
		if err := unmarshal([]byte(env.Data), &p); err != nil {
			return Envelope{}, fmt.Errorf("protocol: decode selection: %w", err)
		}
		return New(p), nil
	case CategoryStyle:
		var p Style
		if err := unmarshal([]byte(env.Data), &p); err != nil {
			return Envelope{}, fmt.Errorf("protocol: decode style: %w", err)
		}
		return New(p), nil
	case CategoryInput, CategoryMouse, CategoryDOM, CategoryWindow:
	default:
		return Envelope{}, fmt.Errorf("%w: %d", ErrUnknownCategory, env.Type)
	}

	var t tagged[R]
	if err := unmarshal([]byte(env.Data), &t); err != nil {
		return Envelope{}, fmt.Errorf("protocol: decode %s data: %w", env.Type, err)
	}
	p, err := decodeTagged(env.Type, t.Type, []byte(t.Content), unmarshal)
	if err != nil {
		return Envelope{}, err
	}
	return New(p), nil
}

func decodeTagged(cat Category, subtype int, content []byte, unmarshal unmarshalFunc) (Payload, error) {
	into := func(v any) error {
		if err := unmarshal(content, v); err != nil {
			return fmt.Errorf("protocol: decode %s/%d content: %w", cat, subtype, err)
		}
		return nil
	}
	unknown := fmt.Errorf("%w: %s %d", ErrUnknownSubtype, cat, subtype)

	switch cat {
	case CategoryInput:
		s := InputSubtype(subtype)
		if !s.valid() {
			return nil, unknown
		}
		var p Input
		if err := into(&p); err != nil {
			return nil, err
		}
		p.Subtype = s
		return p, nil

	case CategoryMouse:
		s := MouseSubtype(subtype)
		if !s.valid() {
			return nil, unknown
		}
		var p Mouse
		if err := into(&p); err != nil {
			return nil, err
		}
		p.Subtype = s
		return p, nil

	case CategoryDOM:
		switch DOMSubtype(subtype) {
		case DOMChangeType:
			return decodeAs[DOMChange](into)
		case DOMRemovedType:
			return decodeAs[Removed](into)
		case DOMAttributeType:
			return decodeAs[AttributeChange](into)
		case DOMSnapshotType:
			return decodeAs[Snapshot](into)
		}

	case CategoryWindow:
		switch WindowSubtype(subtype) {
		case WindowResize:
			return decodeAs[Resize](into)
		case WindowScroll:
			return decodeAs[Scroll](into)
		case WindowLoaded, WindowChangeURL, WindowReload:
			var s string
			if err := into(&s); err != nil {
				return nil, err
			}
			switch WindowSubtype(subtype) {
			case WindowLoaded:
				return Loaded{Href: s}, nil
			case WindowChangeURL:
				return ChangeURL{URL: s}, nil
			default:
				return Reload{URL: s}, nil
			}
		}
	}
	return nil, unknown
}

func decodeAs[T Payload](into func(any) error) (Payload, error) {
	var p T
	if err := into(&p); err != nil {
		return nil, err
	}
	return p, nil
}

// --- JSON ---

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }
func (jsonCodec) Binary() bool { return false }

func (jsonCodec) Marshal(e Envelope) ([]byte, error) {
	w, err := toWire(e)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("protocol: json marshal: %w", err)
	}
	return data, nil
}

func (jsonCodec) Unmarshal(data []byte) (Envelope, error) {
	return fromWire[json.RawMessage](data, json.Unmarshal)
}

// --- CBOR ---

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("protocol: CBOR encoder initialization failed: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("protocol: CBOR decoder initialization failed: " + err.Error())
	}
}

type cborCodec struct{}

func (cborCodec) Name() string { return "cbor" }
func (cborCodec) Binary() bool { return true }

func (cborCodec) Marshal(e Envelope) ([]byte, error) {
	w, err := toWire(e)
	if err != nil {
		return nil, err
	}
	data, err := cborEnc.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("protocol: cbor marshal: %w", err)
	}
	return data, nil
}

func (cborCodec) Unmarshal(data []byte) (Envelope, error) {
	return fromWire[cbor.RawMessage](data, cborDec.Unmarshal)
}

// --- zstd ---

// zstd.Encoder and zstd.Decoder are safe for concurrent EncodeAll/DecodeAll.
var (
	zstdEnc *zstd.Encoder
	zstdDec *zstd.Decoder
)

func init() {
	var err error
	zstdEnc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("protocol: zstd encoder initialization failed: " + err.Error())
	}
	zstdDec, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(64<<20))
	if err != nil {
		panic("protocol: zstd decoder initialization failed: " + err.Error())
	}
}

type compressed struct{ inner Codec }

// Compressed wraps inner so that every message is a zstd frame.
func Compressed(inner Codec) Codec { return compressed{inner: inner} }

func (c compressed) Name() string { return c.inner.Name() + "+zstd" }
func (compressed) Binary() bool   { return true }

func (c compressed) Marshal(e Envelope) ([]byte, error) {
	data, err := c.inner.Marshal(e)
	if err != nil {
		return nil, err
	}
	return zstdEnc.EncodeAll(data, nil), nil
}

func (c compressed) Unmarshal(data []byte) (Envelope, error) {
	raw, err := zstdDec.DecodeAll(data, nil)
	if err != nil {
		return Envelope{}, fmt.Errorf("protocol: zstd decode: %w", err)
	}
	return c.inner.Unmarshal(raw)
}
