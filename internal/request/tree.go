// Package request turns SES Query API request bodies into typed values.
//
// The Query API flattens nested structures into dotted keys such as
// "Destination.ToAddresses.member.1". Unflatten rebuilds the nesting as a
// Tree; the Parse* functions read a Tree into the request types.
package request

import (
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strconv"
	"strings"
)

// Tree is a nested request body. Values are string, Tree or []any, plus
// JSON scalars when the body was posted as JSON.
type Tree map[string]any

// Unflatten builds a Tree from dotted keys. When a key is both a leaf and
// the prefix of another key, the nested value wins.
func Unflatten(values url.Values) Tree {
	root := Tree{}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, key := range keys {
		vals := values[key]
		if len(vals) == 0 || key == "" {
			continue
		}
		segments := strings.Split(key, ".")
		node := root
		for _, seg := range segments[:len(segments)-1] {
			child, ok := node[seg].(Tree)
			if !ok {
				child = Tree{}
				node[seg] = child
			}
			node = child
		}
		last := segments[len(segments)-1]
		if _, isBranch := node[last].(Tree); isBranch {
			continue
		}
		node[last] = vals[0]
	}
	return root
}

// FromJSON decodes a JSON object body into a Tree.
func FromJSON(r io.Reader) (Tree, error) {
	var raw map[string]any
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode JSON body: %w", err)
	}
	return fromJSONValue(raw).(Tree), nil
}

func fromJSONValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		t := make(Tree, len(val))
		for k, child := range val {
			t[k] = fromJSONValue(child)
		}
		return t
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = fromJSONValue(child)
		}
		return out
	default:
		return val
	}
}

// Child returns the nested Tree under key, or nil when absent or not a Tree.
func (t Tree) Child(key string) Tree {
	if t == nil {
		return nil
	}
	child, _ := t[key].(Tree)
	return child
}

// String returns the leaf under key. Non-string values yield "".
func (t Tree) String(key string) string {
	if t == nil {
		return ""
	}
	s, _ := t[key].(string)
	return s
}

// Text returns the leaf under key, re-encoding a nested JSON value as JSON
// text. It is used for fields such as TemplateData that JSON clients may
// send either as an encoded string or inline.
func (t Tree) Text(key string) string {
	if t == nil {
		return ""
	}
	switch v := t[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// Members returns the elements of the collection under key in positional
// order. Both the Query API form ({member: {1: .., 2: ..}}) and a plain
// array are accepted.
func (t Tree) Members(key string) []any {
	if t == nil {
		return nil
	}
	switch v := t[key].(type) {
	case []any:
		return v
	case Tree:
		if members, ok := v["member"]; ok {
			switch m := members.(type) {
			case Tree:
				return indexed(m)
			case []any:
				return m
			}
			return nil
		}
		return indexed(v)
	}
	return nil
}

// Strings is Members restricted to string elements.
func (t Tree) Strings(key string) []string {
	members := t.Members(key)
	out := make([]string, 0, len(members))
	for _, m := range members {
		if s, ok := m.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// indexed orders the values of a map keyed by 1-based positions. Keys that
// are not numbers are ignored.
func indexed(m Tree) []any {
	type entry struct {
		pos int
		val any
	}
	entries := make([]entry, 0, len(m))
	for k, v := range m {
		pos, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		entries = append(entries, entry{pos, v})
	}
	slices.SortFunc(entries, func(a, b entry) int { return cmp.Compare(a.pos, b.pos) })

	out := make([]any, len(entries))
	for i, e := range entries {
		out[i] = e.val
	}
	return out
}
