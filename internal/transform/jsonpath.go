package transform

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/spyzhov/ajson"
	"github.com/tidwall/sjson"
)

// JSONPathDropStep removes every node its path matches. Object members are
// deleted by key; array elements are deleted in descending index order so
// earlier siblings keep their positions. A match on the document root is a
// no-op.
type JSONPathDropStep struct {
	path string
	cmds []string
}

// CompileDrop parses the JSONPath once at config load.
func CompileDrop(path string) (*JSONPathDropStep, error) {
	cmds, err := ajson.ParseJSONPath(path)
	if err != nil {
		return nil, fmt.Errorf("invalid jsonpath %q: %w", path, err)
	}
	return &JSONPathDropStep{path: path, cmds: cmds}, nil
}

// Apply drops all matches from body, which must be valid JSON.
func (s *JSONPathDropStep) Apply(body []byte) ([]byte, error) {
	root, err := ajson.Unmarshal(body)
	if err != nil {
		return nil, fmt.Errorf("jsonpath %q: body is not valid JSON: %w", s.path, err)
	}
	nodes, err := ajson.ApplyJSONPath(root, s.cmds)
	if err != nil {
		return nil, fmt.Errorf("jsonpath %q: %w", s.path, err)
	}

	// Matches arrive in document order; walking them backwards deletes
	// children before parents and higher array indices before lower ones,
	// which keeps every remaining byte-path valid.
	for i := len(nodes) - 1; i >= 0; i-- {
		n := nodes[i]
		if n.Parent() == nil {
			continue
		}
		body, err = sjson.DeleteBytes(body, bytePath(n))
		if err != nil {
			return nil, fmt.Errorf("jsonpath %q: delete: %w", s.path, err)
		}
	}
	return body, nil
}

// JSONPathAddStep replaces every node its path matches with a deep copy of
// the configured value. When nothing matches and the path is a pure
// dot/bracket chain, the missing chain is created; non-matching paths with
// filters or wildcards are silent no-ops.
type JSONPathAddStep struct {
	path     string
	cmds     []string
	simple   string // sjson form of a pure dot/bracket path, "" otherwise
	valueRaw []byte
}

// CompileAdd parses the JSONPath and serializes the value once at config
// load; every application re-inserts the same raw bytes, which is how the
// deep-copy guarantee holds.
func CompileAdd(path string, value any) (*JSONPathAddStep, error) {
	cmds, err := ajson.ParseJSONPath(path)
	if err != nil {
		return nil, fmt.Errorf("invalid jsonpath %q: %w", path, err)
	}
	raw, err := sonic.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("jsonpath %q: value is not serializable: %w", path, err)
	}
	step := &JSONPathAddStep{path: path, cmds: cmds, valueRaw: raw}
	if segs, ok := simpleSegments(cmds); ok {
		step.simple = strings.Join(segs, ".")
	}
	return step, nil
}

// Apply sets the value at all matches in body, which must be valid JSON.
func (s *JSONPathAddStep) Apply(body []byte) ([]byte, error) {
	root, err := ajson.Unmarshal(body)
	if err != nil {
		return nil, fmt.Errorf("jsonpath %q: body is not valid JSON: %w", s.path, err)
	}
	nodes, err := ajson.ApplyJSONPath(root, s.cmds)
	if err != nil {
		return nil, fmt.Errorf("jsonpath %q: %w", s.path, err)
	}

	if len(nodes) == 0 {
		if s.simple == "" {
			return body, nil
		}
		out, err := sjson.SetRawBytes(body, s.simple, s.valueRaw)
		if err != nil {
			return nil, fmt.Errorf("jsonpath %q: set: %w", s.path, err)
		}
		return out, nil
	}

	// Reverse document order: inner matches are rewritten before any
	// enclosing match replaces them wholesale.
	for i := len(nodes) - 1; i >= 0; i-- {
		n := nodes[i]
		if n.Parent() == nil {
			body = append([]byte(nil), s.valueRaw...)
			continue
		}
		body, err = sjson.SetRawBytes(body, bytePath(n), s.valueRaw)
		if err != nil {
			return nil, fmt.Errorf("jsonpath %q: set: %w", s.path, err)
		}
	}
	return body, nil
}

// bytePath converts a matched node's position into the dot path dialect the
// byte-level mutators understand.
func bytePath(n *ajson.Node) string {
	var segs []string
	for cur := n; cur.Parent() != nil; cur = cur.Parent() {
		if cur.Parent().IsArray() {
			segs = append(segs, strconv.Itoa(cur.Index()))
		} else {
			segs = append(segs, escapeSegment(cur.Key()))
		}
	}
	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}
	return strings.Join(segs, ".")
}

// simpleSegments reports whether the parsed path is a pure dot/bracket chain
// (no filters, wildcards, slices, or recursion) and returns its segments in
// dot-path form.
func simpleSegments(cmds []string) ([]string, bool) {
	if len(cmds) < 2 || cmds[0] != "$" {
		return nil, false
	}
	segs := make([]string, 0, len(cmds)-1)
	for _, tok := range cmds[1:] {
		if tok == "" || tok == ".." || tok == "*" {
			return nil, false
		}
		if len(tok) >= 2 && tok[0] == '\'' && tok[len(tok)-1] == '\'' {
			segs = append(segs, escapeSegment(tok[1:len(tok)-1]))
			continue
		}
		if isDigits(tok) {
			segs = append(segs, tok)
			continue
		}
		if strings.ContainsAny(tok, "*?@()[]:,'\" ") {
			return nil, false
		}
		segs = append(segs, escapeSegment(tok))
	}
	return segs, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// escapeSegment protects key characters that are meaningful to the dot path
// dialect.
func escapeSegment(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '\\', '|', '#', '@':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
