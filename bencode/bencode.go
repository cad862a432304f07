// Package bencode implements the bencode codec described in BEP 3: a
// self-describing binary format for integers, byte strings, ordered
// lists, and dictionaries with strictly sorted keys.
//
// Unlike a struct-tag based decoder, this codec exposes the exact byte
// span of any value it decodes. The metainfo loader needs the original
// byte range of the "info" dictionary, byte-identical to its position in
// the source file, to compute a correct info-hash: re-encoding a decoded
// value with a generic marshaler and hashing that instead produces a
// different (wrong) hash the moment the source bytes aren't already in
// canonical form.
package bencode

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/tharunyogenthra/bitleech/bterrors"
)

// Kind identifies which of the four bencode value kinds a Value holds.
type Kind int

const (
	KindInt Kind = iota
	KindString
	KindList
	KindDict
)

// Value is a decoded bencode value. Exactly one of Int, Str, List, Dict
// is meaningful, selected by Kind. Str holds raw bytes: bencode byte
// strings are not guaranteed to be valid UTF-8.
type Value struct {
	Kind Kind
	Int  int64
	Str  []byte
	List []Value
	Dict map[string]Value
	// DictKeys preserves the ascending key order the decoder observed,
	// so a Dict can be walked deterministically without re-sorting.
	DictKeys []string
}

// Span is a half-open byte range [Start, End) into the buffer a Value
// was decoded from.
type Span struct {
	Start int
	End   int
}

// Decoder decodes a sequence of bencode values from a fixed buffer,
// tracking the exact span of each decoded value.
type Decoder struct {
	buf []byte
	pos int
}

// NewDecoder returns a Decoder reading from buf.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Pos returns the decoder's current offset into the buffer.
func (d *Decoder) Pos() int { return d.pos }

// DecodeValue decodes one value starting at the decoder's current
// position and returns it along with its exact byte span.
func (d *Decoder) DecodeValue() (Value, Span, error) {
	start := d.pos
	v, err := d.decodeAny()
	if err != nil {
		return Value{}, Span{}, err
	}
	return v, Span{Start: start, End: d.pos}, nil
}

func (d *Decoder) err(reason string) error {
	return &bterrors.MalformedBencode{Offset: d.pos, Reason: reason}
}

func (d *Decoder) peek() (byte, bool) {
	if d.pos >= len(d.buf) {
		return 0, false
	}
	return d.buf[d.pos], true
}

func (d *Decoder) decodeAny() (Value, error) {
	b, ok := d.peek()
	if !ok {
		return Value{}, d.err("unexpected end of input")
	}
	switch {
	case b == 'i':
		return d.decodeInt()
	case b == 'l':
		return d.decodeList()
	case b == 'd':
		return d.decodeDict()
	case b >= '0' && b <= '9':
		return d.decodeString()
	default:
		return Value{}, d.err(fmt.Sprintf("unexpected byte %q", b))
	}
}

func (d *Decoder) decodeInt() (Value, error) {
	start := d.pos
	d.pos++ // consume 'i'
	end := bytes.IndexByte(d.buf[d.pos:], 'e')
	if end < 0 {
		return Value{}, d.err("unterminated integer")
	}
	raw := d.buf[d.pos : d.pos+end]
	if err := validateCanonicalInt(raw); err != nil {
		d.pos = start
		return Value{}, d.err(err.Error())
	}
	var n int64
	neg := false
	digits := raw
	if len(digits) > 0 && digits[0] == '-' {
		neg = true
		digits = digits[1:]
	}
	for _, c := range digits {
		n = n*10 + int64(c-'0')
	}
	if neg {
		n = -n
	}
	d.pos += end + 1 // consume digits and 'e'
	return Value{Kind: KindInt, Int: n}, nil
}

func validateCanonicalInt(raw []byte) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty integer")
	}
	digits := raw
	if raw[0] == '-' {
		digits = raw[1:]
		if len(digits) == 0 {
			return fmt.Errorf("bare minus sign")
		}
		if digits[0] == '0' {
			return fmt.Errorf("negative zero or leading zero after minus")
		}
	}
	if len(digits) > 1 && digits[0] == '0' {
		return fmt.Errorf("leading zero in integer")
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return fmt.Errorf("non-digit %q in integer", c)
		}
	}
	return nil
}

func (d *Decoder) decodeString() (Value, error) {
	lenEnd := bytes.IndexByte(d.buf[d.pos:], ':')
	if lenEnd < 0 {
		return Value{}, d.err("unterminated string length")
	}
	lenBuf := d.buf[d.pos : d.pos+lenEnd]
	for _, c := range lenBuf {
		if c < '0' || c > '9' {
			return Value{}, d.err("non-digit in string length")
		}
	}
	if len(lenBuf) > 1 && lenBuf[0] == '0' {
		return Value{}, d.err("leading zero in string length")
	}
	var n int
	for _, c := range lenBuf {
		n = n*10 + int(c-'0')
	}
	d.pos += lenEnd + 1 // consume length and ':'
	if d.pos+n > len(d.buf) {
		return Value{}, d.err("string length exceeds buffer")
	}
	raw := d.buf[d.pos : d.pos+n]
	d.pos += n
	out := make([]byte, n)
	copy(out, raw)
	return Value{Kind: KindString, Str: out}, nil
}

func (d *Decoder) decodeList() (Value, error) {
	d.pos++ // consume 'l'
	var items []Value
	for {
		b, ok := d.peek()
		if !ok {
			return Value{}, d.err("unterminated list")
		}
		if b == 'e' {
			d.pos++
			break
		}
		v, err := d.decodeAny()
		if err != nil {
			return Value{}, err
		}
		items = append(items, v)
	}
	return Value{Kind: KindList, List: items}, nil
}

func (d *Decoder) decodeDict() (Value, error) {
	d.pos++ // consume 'd'
	dict := make(map[string]Value)
	var keys []string
	prevKey := ""
	first := true
	for {
		b, ok := d.peek()
		if !ok {
			return Value{}, d.err("unterminated dictionary")
		}
		if b == 'e' {
			d.pos++
			break
		}
		keyVal, err := d.decodeAny()
		if err != nil {
			return Value{}, err
		}
		if keyVal.Kind != KindString {
			return Value{}, d.err("dictionary key must be a byte string")
		}
		key := string(keyVal.Str)
		if !first && key <= prevKey {
			return Value{}, d.err(fmt.Sprintf("dictionary keys not strictly ascending: %q after %q", key, prevKey))
		}
		first = false
		prevKey = key
		val, err := d.decodeAny()
		if err != nil {
			return Value{}, err
		}
		dict[key] = val
		keys = append(keys, key)
	}
	return Value{Kind: KindDict, Dict: dict, DictKeys: keys}, nil
}

// SpanOfTopLevelKey scans the top-level dictionary in raw and returns the
// exact byte span of the value mapped to key, without re-encoding
// anything. This is how callers that need byte-identical sub-ranges (for
// example, hashing the "info" dictionary of a metainfo file) obtain them:
// decoding then re-encoding a value is not guaranteed to reproduce the
// original bytes unless the source was already canonical.
func SpanOfTopLevelKey(raw []byte, key string) (Span, error) {
	d := NewDecoder(raw)
	b, ok := d.peek()
	if !ok || b != 'd' {
		return Span{}, d.err("top-level value is not a dictionary")
	}
	d.pos++
	for {
		b, ok := d.peek()
		if !ok {
			return Span{}, d.err("unterminated top-level dictionary")
		}
		if b == 'e' {
			break
		}
		keyVal, err := d.decodeAny()
		if err != nil {
			return Span{}, err
		}
		if keyVal.Kind != KindString {
			return Span{}, d.err("dictionary key must be a byte string")
		}
		valStart := d.pos
		if _, err := d.decodeAny(); err != nil {
			return Span{}, err
		}
		if string(keyVal.Str) == key {
			return Span{Start: valStart, End: d.pos}, nil
		}
	}
	return Span{}, &bterrors.MalformedBencode{Offset: d.pos, Reason: fmt.Sprintf("key %q not found at top level", key)}
}

// Decode decodes a single top-level value from buf and returns it. It is
// an error for trailing bytes to remain after the value.
func Decode(buf []byte) (Value, error) {
	d := NewDecoder(buf)
	v, _, err := d.DecodeValue()
	if err != nil {
		return Value{}, err
	}
	if d.pos != len(buf) {
		return Value{}, &bterrors.MalformedBencode{Offset: d.pos, Reason: "trailing data after top-level value"}
	}
	return v, nil
}

// Encode renders v in canonical bencode form: canonical integers (no
// leading zeros, no "-0"), and dictionary keys in strictly ascending
// byte order.
func Encode(v Value) []byte {
	var buf bytes.Buffer
	encodeInto(&buf, v)
	return buf.Bytes()
}

func encodeInto(buf *bytes.Buffer, v Value) {
	switch v.Kind {
	case KindInt:
		fmt.Fprintf(buf, "i%de", v.Int)
	case KindString:
		fmt.Fprintf(buf, "%d:", len(v.Str))
		buf.Write(v.Str)
	case KindList:
		buf.WriteByte('l')
		for _, item := range v.List {
			encodeInto(buf, item)
		}
		buf.WriteByte('e')
	case KindDict:
		buf.WriteByte('d')
		keys := make([]string, 0, len(v.Dict))
		for k := range v.Dict {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(buf, "%d:%s", len(k), k)
			encodeInto(buf, v.Dict[k])
		}
		buf.WriteByte('e')
	}
}

// Str builds a KindString Value from a Go string.
func Str(s string) Value { return Value{Kind: KindString, Str: []byte(s)} }

// Int builds a KindInt Value.
func Int(n int64) Value { return Value{Kind: KindInt, Int: n} }

// List builds a KindList Value.
func List(items ...Value) Value { return Value{Kind: KindList, List: items} }

// Dict builds a KindDict Value from a key/value map; DictKeys is filled
// in sorted order so Encode and any manual walk agree.
func Dict(m map[string]Value) Value {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return Value{Kind: KindDict, Dict: m, DictKeys: keys}
}

// GetString returns the string form of a dictionary field, or ok=false
// if the key is absent or not a byte string.
func (v Value) GetString(key string) (string, bool) {
	if v.Kind != KindDict {
		return "", false
	}
	f, ok := v.Dict[key]
	if !ok || f.Kind != KindString {
		return "", false
	}
	return string(f.Str), true
}

// GetBytes returns the raw bytes of a dictionary field.
func (v Value) GetBytes(key string) ([]byte, bool) {
	if v.Kind != KindDict {
		return nil, false
	}
	f, ok := v.Dict[key]
	if !ok || f.Kind != KindString {
		return nil, false
	}
	return f.Str, true
}

// GetInt returns the integer form of a dictionary field.
func (v Value) GetInt(key string) (int64, bool) {
	if v.Kind != KindDict {
		return 0, false
	}
	f, ok := v.Dict[key]
	if !ok || f.Kind != KindInt {
		return 0, false
	}
	return f.Int, true
}

// GetList returns a dictionary field's list form.
func (v Value) GetList(key string) ([]Value, bool) {
	if v.Kind != KindDict {
		return nil, false
	}
	f, ok := v.Dict[key]
	if !ok || f.Kind != KindList {
		return nil, false
	}
	return f.List, true
}

// GetDict returns a dictionary field's dict form.
func (v Value) GetDict(key string) (Value, bool) {
	if v.Kind != KindDict {
		return Value{}, false
	}
	f, ok := v.Dict[key]
	if !ok || f.Kind != KindDict {
		return Value{}, false
	}
	return f, true
}
