// Package identity encodes the origin of an emitted element into a compact,
// opaque marker value and decodes it back.
//
// An identifier is the raw-deflated canonical JSON form of a TemplateNode,
// encoded as unpadded URL-safe base64. Decoding accepts only strings that
// Encode could have produced.
package identity

import (
	"bytes"
	"compress/flate"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"codesync/internal/position"
)

// MarkerAttribute is the default attribute carrying identifiers on elements.
const MarkerAttribute = "data-oid"

// maxDecoded bounds the inflated payload of a single identifier.
const maxDecoded = 64 << 10

// ErrDecode matches every *DecodeError.
var ErrDecode = errors.New("invalid identifier")

var encoding = base64.RawURLEncoding.Strict()

// TemplateNode locates an element in a source revision.
type TemplateNode struct {
	Path     string        `json:"path"`
	StartTag position.Span `json:"startTag"`
	EndTag   position.Span `json:"endTag"`
	Commit   string        `json:"commit,omitempty"`
}

// Span covers the element from its opening tag to its closing tag.
func (n TemplateNode) Span() position.Span {
	return position.Span{Start: n.StartTag.Start, End: n.EndTag.End}
}

// Validate checks the ordering invariant of the tag spans and that the
// strings survive JSON unchanged.
func (n TemplateNode) Validate() error {
	if n.Path == "" {
		return errors.New("empty path")
	}
	if !utf8.ValidString(n.Path) {
		return fmt.Errorf("path %q is not valid UTF-8", n.Path)
	}
	if !utf8.ValidString(n.Commit) {
		return fmt.Errorf("commit %q is not valid UTF-8", n.Commit)
	}
	if !n.StartTag.Valid() {
		return fmt.Errorf("invalid start tag %s", n.StartTag)
	}
	if !n.EndTag.Valid() {
		return fmt.Errorf("invalid end tag %s", n.EndTag)
	}
	if position.Compare(n.StartTag.End, n.EndTag.Start) > 0 {
		return fmt.Errorf("start tag %s overlaps end tag %s", n.StartTag, n.EndTag)
	}
	return nil
}

// DecodeError reports an identifier that is not valid output of Encode.
type DecodeError struct {
	Input  string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	in := e.Input
	if len(in) > 32 {
		in = in[:32] + "..."
	}
	if e.Err != nil {
		return fmt.Sprintf("decode identifier %q: %s: %v", in, e.Reason, e.Err)
	}
	return fmt.Sprintf("decode identifier %q: %s", in, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// Encode returns the identifier for n.
func Encode(n TemplateNode) (string, error) {
	if err := n.Validate(); err != nil {
		return "", fmt.Errorf("encode identifier: %w", err)
	}
	payload, err := json.Marshal([]any{
		n.Path,
		n.StartTag.Start.Line, n.StartTag.Start.Column,
		n.StartTag.End.Line, n.StartTag.End.Column,
		n.EndTag.Start.Line, n.EndTag.Start.Column,
		n.EndTag.End.Line, n.EndTag.End.Column,
		n.Commit,
	})
	if err != nil {
		return "", fmt.Errorf("encode identifier: %w", err)
	}

	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return "", fmt.Errorf("encode identifier: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return "", fmt.Errorf("encode identifier: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("encode identifier: %w", err)
	}
	return encoding.EncodeToString(buf.Bytes()), nil
}

// Decode reverses Encode. It never returns a partially filled node.
func Decode(s string) (TemplateNode, error) {
	fail := func(reason string, err error) (TemplateNode, error) {
		return TemplateNode{}, &DecodeError{Input: s, Reason: reason, Err: err}
	}
	if s == "" {
		return fail("empty", nil)
	}

	raw, err := encoding.DecodeString(s)
	if err != nil {
		return fail("base64", err)
	}

	r := flate.NewReader(bytes.NewReader(raw))
	payload, err := io.ReadAll(io.LimitReader(r, maxDecoded+1))
	r.Close()
	if err != nil {
		return fail("inflate", err)
	}
	if len(payload) > maxDecoded {
		return fail("payload too large", nil)
	}

	n, err := unmarshal(payload)
	if err != nil {
		return fail("payload", err)
	}
	if err := n.Validate(); err != nil {
		return fail("template node", err)
	}

	canonical, err := Encode(n)
	if err != nil || canonical != s {
		return fail("not canonical", err)
	}
	return n, nil
}

func unmarshal(payload []byte) (TemplateNode, error) {
	var fields []json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return TemplateNode{}, err
	}
	if len(fields) != 10 {
		return TemplateNode{}, fmt.Errorf("expected 10 fields, got %d", len(fields))
	}

	var n TemplateNode
	if err := json.Unmarshal(fields[0], &n.Path); err != nil {
		return TemplateNode{}, fmt.Errorf("path: %w", err)
	}
	ints := []*int{
		&n.StartTag.Start.Line, &n.StartTag.Start.Column,
		&n.StartTag.End.Line, &n.StartTag.End.Column,
		&n.EndTag.Start.Line, &n.EndTag.Start.Column,
		&n.EndTag.End.Line, &n.EndTag.End.Column,
	}
	for i, dst := range ints {
		if err := json.Unmarshal(fields[i+1], dst); err != nil {
			return TemplateNode{}, fmt.Errorf("field %d: %w", i+1, err)
		}
	}
	if err := json.Unmarshal(fields[9], &n.Commit); err != nil {
		return TemplateNode{}, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}
