package dsl

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
)

// Hash returns the stable content hash of the document: the
// hex-encoded SHA-256 of the canonical serialization. Two documents
// that parse to the same tree hash identically regardless of source
// JSON key order or whitespace. The hash keys compiled-artifact
// caches and appears in audit payloads, so the canonical form is
// frozen.
func (d *Document) Hash() string {
	var buf bytes.Buffer
	buf.WriteString(`{"kind":`)
	writeJSONString(&buf, string(d.Kind))
	buf.WriteString(`,"version":1,"root":`)
	if d.Kind == KindActions {
		buf.WriteByte('[')
		for i, a := range d.Actions {
			if i > 0 {
				buf.WriteByte(',')
			}
			a.canonical(&buf)
		}
		buf.WriteByte(']')
	} else {
		d.Root.canonical(&buf)
	}
	buf.WriteByte('}')
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}

// Hash returns the stable content hash of a single expression tree.
func (e *Expr) Hash() string {
	var buf bytes.Buffer
	e.canonical(&buf)
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}

// HashPayload returns the canonical hash of an arbitrary JSON-shaped
// payload value (maps, lists, scalars). The journal uses this for
// payloadHash so that payload hashing and rule hashing share one
// canonical form.
func HashPayload(v interface{}) string {
	var buf bytes.Buffer
	writeCanonicalValue(&buf, v)
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}
