package dsl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// rawNode is the wire shape of every node in the canonical document.
type rawNode struct {
	Op   Op                `json:"op"`
	Args []json.RawMessage `json:"args,omitempty"`
}

// rawDocument is the wire shape of the canonical document envelope.
type rawDocument struct {
	Kind    Kind            `json:"kind"`
	Version int             `json:"version"`
	Root    json.RawMessage `json:"root"`
}

// ParseDocument parses the canonical JSON document form
// {kind, version, root} into a Document. The root is an expression
// node for guard/security_rule/timer_rule kinds and an array of action
// nodes for the actions kind. Parsing enforces the operator whitelist;
// type checking is a separate step (Validate).
func ParseDocument(data []byte) (*Document, error) {
	var raw rawDocument
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("malformed document: %v", err)}
	}
	if raw.Version != DocumentVersion {
		return nil, &ValidationError{Message: fmt.Sprintf("unsupported document version %d", raw.Version)}
	}

	doc := &Document{Kind: raw.Kind, Version: raw.Version}
	switch raw.Kind {
	case KindGuard, KindSecurityRule, KindTimerRule:
		root, err := parseExpr(raw.Root)
		if err != nil {
			return nil, err
		}
		doc.Root = root
	case KindActions:
		var items []json.RawMessage
		if err := json.Unmarshal(raw.Root, &items); err != nil {
			return nil, &ValidationError{Message: "actions document root must be an array"}
		}
		actions := make([]*Expr, 0, len(items))
		for _, item := range items {
			action, err := parseAction(item)
			if err != nil {
				return nil, err
			}
			actions = append(actions, action)
		}
		doc.Actions = actions
	default:
		return nil, &ValidationError{Message: fmt.Sprintf("unknown document kind %q", raw.Kind)}
	}
	return doc, nil
}

// ParseExpr parses a single expression node outside a document
// envelope. Used by the catalog when embedding guards inline.
func ParseExpr(data []byte) (*Expr, error) {
	return parseExpr(data)
}

func parseExpr(data []byte) (*Expr, error) {
	var raw rawNode
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("malformed node: %v", err)}
	}
	if !IsExpressionOp(raw.Op) {
		return nil, &ValidationError{Op: raw.Op, Message: "operator not in whitelist"}
	}

	switch raw.Op {
	case OpLit:
		if len(raw.Args) != 1 {
			return nil, &ValidationError{Op: OpLit, Message: "lit takes exactly one argument"}
		}
		value, err := parseLiteral(raw.Args[0])
		if err != nil {
			return nil, err
		}
		return &Expr{Op: OpLit, Value: value}, nil

	case OpDur:
		var s string
		if len(raw.Args) != 1 || json.Unmarshal(raw.Args[0], &s) != nil {
			return nil, &ValidationError{Op: OpDur, Message: "dur takes exactly one string argument"}
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, &ValidationError{Op: OpDur, Message: fmt.Sprintf("bad duration %q", s)}
		}
		return &Expr{Op: OpDur, Dur: d}, nil

	case OpRef:
		var path string
		if len(raw.Args) != 1 || json.Unmarshal(raw.Args[0], &path) != nil {
			return nil, &ValidationError{Op: OpRef, Message: "ref takes exactly one string argument"}
		}
		return &Expr{Op: OpRef, Path: path}, nil
	}

	args := make([]*Expr, 0, len(raw.Args))
	for _, a := range raw.Args {
		child, err := parseExpr(a)
		if err != nil {
			return nil, err
		}
		args = append(args, child)
	}
	return &Expr{Op: raw.Op, Args: args}, nil
}

// parseAction parses a top-level action node. emit_event payload
// entries are pair nodes, parsed here because pair is structural and
// only legal in that position.
func parseAction(data []byte) (*Expr, error) {
	var raw rawNode
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("malformed action: %v", err)}
	}
	if !IsActionOp(raw.Op) {
		return nil, &ValidationError{Op: raw.Op, Message: "not an action operator"}
	}

	action := &Expr{Op: raw.Op}
	for i, a := range raw.Args {
		if raw.Op == OpEmitEvent && i > 0 {
			p, err := parsePair(a)
			if err != nil {
				return nil, err
			}
			action.Args = append(action.Args, p)
			continue
		}
		child, err := parseExpr(a)
		if err != nil {
			return nil, err
		}
		action.Args = append(action.Args, child)
	}
	return action, nil
}

func parsePair(data []byte) (*Expr, error) {
	var raw rawNode
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ValidationError{Message: fmt.Sprintf("malformed pair: %v", err)}
	}
	if raw.Op != OpPair || len(raw.Args) != 2 {
		return nil, &ValidationError{Op: raw.Op, Message: "emit_event payload entries must be pair(lit(name), expr)"}
	}
	name, err := parseExpr(raw.Args[0])
	if err != nil {
		return nil, err
	}
	if name.Op != OpLit {
		return nil, &ValidationError{Op: OpPair, Message: "pair name must be a lit"}
	}
	value, err := parseExpr(raw.Args[1])
	if err != nil {
		return nil, err
	}
	return &Expr{Op: OpPair, Args: []*Expr{name, value}}, nil
}

func parseLiteral(data []byte) (interface{}, error) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, &ValidationError{Op: OpLit, Message: fmt.Sprintf("malformed literal: %v", err)}
	}
	switch lit := v.(type) {
	case bool, float64, string, nil:
		return lit, nil
	case []interface{}:
		for _, e := range lit {
			switch e.(type) {
			case bool, float64, string:
			default:
				return nil, &ValidationError{Op: OpLit, Message: "list literals may only contain scalars"}
			}
		}
		return lit, nil
	default:
		return nil, &ValidationError{Op: OpLit, Message: "literal must be a scalar or a list of scalars"}
	}
}

// MarshalJSON serializes the document back to its canonical wire form.
// Parse followed by MarshalJSON is lossless.
func (d *Document) MarshalJSON() ([]byte, error) {
	var root interface{}
	if d.Kind == KindActions {
		root = d.Actions
	} else {
		root = d.Root
	}
	return json.Marshal(struct {
		Kind    Kind        `json:"kind"`
		Version int         `json:"version"`
		Root    interface{} `json:"root"`
	}{d.Kind, d.Version, root})
}

// MarshalJSON serializes the node to the {op, args} wire form.
func (e *Expr) MarshalJSON() ([]byte, error) {
	switch e.Op {
	case OpLit:
		return json.Marshal(rawMarshalNode{Op: e.Op, Args: []interface{}{e.Value}})
	case OpDur:
		return json.Marshal(rawMarshalNode{Op: e.Op, Args: []interface{}{e.Dur.String()}})
	case OpRef:
		return json.Marshal(rawMarshalNode{Op: e.Op, Args: []interface{}{e.Path}})
	}
	args := make([]interface{}, len(e.Args))
	for i, a := range e.Args {
		args[i] = a
	}
	return json.Marshal(rawMarshalNode{Op: e.Op, Args: args})
}

type rawMarshalNode struct {
	Op   Op            `json:"op"`
	Args []interface{} `json:"args,omitempty"`
}

// canonical writes a deterministic byte form of the node: fixed field
// order, minimal number formatting, no whitespace. This form is the
// hashing input; it must never change between releases.
func (e *Expr) canonical(buf *bytes.Buffer) {
	buf.WriteString(`{"op":`)
	writeJSONString(buf, string(e.Op))
	buf.WriteString(`,"args":[`)
	switch e.Op {
	case OpLit:
		writeCanonicalValue(buf, e.Value)
	case OpDur:
		writeJSONString(buf, e.Dur.String())
	case OpRef:
		writeJSONString(buf, e.Path)
	default:
		for i, a := range e.Args {
			if i > 0 {
				buf.WriteByte(',')
			}
			a.canonical(buf)
		}
	}
	buf.WriteString(`]}`)
}

func writeCanonicalValue(buf *bytes.Buffer, v interface{}) {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case float64:
		buf.WriteString(strconv.FormatFloat(val, 'g', -1, 64))
	case string:
		writeJSONString(buf, val)
	case []interface{}:
		buf.WriteByte('[')
		for i, e := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonicalValue(buf, e)
		}
		buf.WriteByte(']')
	case map[string]interface{}:
		// Maps never appear in parsed literals but the journal reuses
		// this writer for payloads, so keys are emitted sorted.
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeJSONString(buf, k)
			buf.WriteByte(':')
			writeCanonicalValue(buf, val[k])
		}
		buf.WriteByte('}')
	default:
		// Fall back to encoding/json for anything exotic.
		b, _ := json.Marshal(val)
		buf.Write(b)
	}
}

func writeJSONString(buf *bytes.Buffer, s string) {
	b, _ := json.Marshal(s)
	buf.Write(b)
}
