package node

import (
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
)

// ContextSet is an open-ended multimap of contextual key/value constraints
// attached to a permission node, eg {"gamemode": "creative"}. Context sets
// are compared by value: two sets with the same key/value pairs are equal
// regardless of insertion order.
type ContextSet map[string][]string

// Add appends a value for |key|.
func (cs ContextSet) Add(key, value string) {
	cs[key] = append(cs[key], value)
}

// Contains returns whether |key| maps to |value|.
func (cs ContextSet) Contains(key, value string) bool {
	for _, v := range cs[key] {
		if v == value {
			return true
		}
	}
	return false
}

// IsEmpty returns whether the set holds no entries.
func (cs ContextSet) IsEmpty() bool {
	for _, vs := range cs {
		if len(vs) != 0 {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (cs ContextSet) Clone() ContextSet {
	var out = make(ContextSet, len(cs))
	for k, vs := range cs {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

// Canonical returns the set's canonical JSON form: keys sorted (by virtue
// of encoding/json map ordering), single values flattened to strings, and
// multi-values emitted as sorted arrays. Two equal sets always canonicalize
// to identical text, which lets canonical forms serve as map keys.
func (cs ContextSet) Canonical() string {
	if cs.IsEmpty() {
		return "{}"
	}
	var flat = make(map[string]interface{}, len(cs))
	for k, vs := range cs {
		if len(vs) == 0 {
			continue
		} else if len(vs) == 1 {
			flat[k] = vs[0]
		} else {
			var sorted = append([]string(nil), vs...)
			sort.Strings(sorted)
			flat[k] = sorted
		}
	}
	var b, err = json.Marshal(flat)
	if err != nil {
		panic(err) // string maps cannot fail to marshal.
	}
	return string(b)
}

// Equal returns whether two sets hold the same key/value pairs.
func (cs ContextSet) Equal(other ContextSet) bool {
	return cs.Canonical() == other.Canonical()
}

// ParseContextSet decodes the stored JSON form of a context set. Values may
// be single strings or arrays of strings; anything else is a decode error.
func ParseContextSet(text string) (ContextSet, error) {
	if text == "" {
		return ContextSet{}, nil
	}
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, errors.Wrap(err, "parsing context set")
	}
	var cs = make(ContextSet, len(raw))
	for k, v := range raw {
		switch v := v.(type) {
		case string:
			cs.Add(k, v)
		case []interface{}:
			for _, e := range v {
				s, ok := e.(string)
				if !ok {
					return nil, errors.Errorf("context key %q has non-string value", k)
				}
				cs.Add(k, s)
			}
		default:
			return nil, errors.Errorf("context key %q has non-string value", k)
		}
	}
	return cs, nil
}

// JSONContextCodec maps context sets to their at-rest JSON text. It is the
// default serializer injected into the storage engine.
type JSONContextCodec struct{}

// Serialize encodes |cs| to canonical JSON.
func (JSONContextCodec) Serialize(cs ContextSet) (string, error) {
	return cs.Canonical(), nil
}

// Deserialize decodes stored JSON text.
func (JSONContextCodec) Deserialize(text string) (ContextSet, error) {
	return ParseContextSet(text)
}
