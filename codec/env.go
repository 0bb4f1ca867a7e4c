package codec

import (
	"strings"

	"github.com/asdf1011/bdec/bitstream"
)

// Scope is one link in the environment chain a decode or encode walk
// threads through the protocol tree: a Sequence pushes a new Scope over
// its parent's before decoding its children, so a child's expressions
// can resolve both its own siblings (this Scope) and any ancestor's
// already-decoded fields (by walking parent links).
type Scope struct {
	parent *Scope
	values map[string]interface{}
}

func newScope(parent *Scope) *Scope {
	return &Scope{parent: parent, values: map[string]interface{}{}}
}

func (s *Scope) set(name string, v interface{}) {
	s.values[name] = v
}

func (s *Scope) get(name string) (interface{}, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if v, ok := cur.values[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// exprEnv adapts Scope to exprengine.Env: a dotted path's first segment
// is looked up in the scope chain, and remaining segments index into
// nested SequenceValue field maps.
type exprEnv struct{ scope *Scope }

func (e exprEnv) Resolve(path string) (int64, bool) {
	segs := strings.Split(path, ".")
	v, ok := e.scope.get(segs[0])
	if !ok {
		return 0, false
	}
	for _, seg := range segs[1:] {
		sv, ok := v.(*SequenceValue)
		if !ok {
			return 0, false
		}
		v, ok = sv.Fields[seg]
		if !ok {
			return 0, false
		}
	}
	return toInt64(v)
}

func toInt64(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case uint64:
		return int64(x), true
	case int:
		return int64(x), true
	case float32:
		return int64(x), true
	case float64:
		return int64(x), true
	case []byte:
		var acc uint64
		for _, b := range x {
			acc = acc<<8 | uint64(b)
		}
		return int64(acc), true
	case bitstream.Bits:
		return int64(x.Uint64()), true
	case *SequenceValue:
		if x.Value != nil {
			return toInt64(x.Value)
		}
		return 0, false
	case *ChoiceValue:
		return toInt64(x.Value)
	default:
		return 0, false
	}
}

func toUint64(v interface{}) (uint64, bool) {
	i, ok := toInt64(v)
	return uint64(i), ok
}

func toFloat32(v interface{}) (float32, bool) {
	switch x := v.(type) {
	case float32:
		return x, true
	case float64:
		return float32(x), true
	case int64:
		return float32(x), true
	case uint64:
		return float32(x), true
	default:
		return 0, false
	}
}

func toFloat64(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	default:
		return 0, false
	}
}
