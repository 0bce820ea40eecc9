package common

import "strings"

// Value is the effective value of a property: unset, a scalar, or an ordered
// list of scalars in band order.
type Value struct {
	items []string
	list  bool
}

// None is the unset value.
var None = Value{}

func Scalar(v string) Value {
	return Value{items: []string{v}}
}

func List(vs ...string) Value {
	items := make([]string, len(vs))
	copy(items, vs)
	return Value{items: items, list: true}
}

// ValueOf builds the value a query result of len(vs) rows resolves to.
func ValueOf(vs []string) Value {
	switch len(vs) {
	case 0:
		return None
	case 1:
		return Scalar(vs[0])
	default:
		return List(vs...)
	}
}

func (v Value) IsNone() bool { return len(v.items) == 0 && !v.list }

func (v Value) IsList() bool { return v.list }

func (v Value) Len() int { return len(v.items) }

// Items returns a copy of the scalars in order.
func (v Value) Items() []string {
	ret := make([]string, len(v.items))
	copy(ret, v.items)
	return ret
}

// Append returns v with s added. A scalar becomes a two element list.
func (v Value) Append(s string) Value {
	if v.IsNone() {
		return Scalar(s)
	}
	items := append(v.Items(), s)
	return Value{items: items, list: true}
}

func (v Value) Equal(o Value) bool {
	if v.list != o.list || len(v.items) != len(o.items) {
		return false
	}
	for i := range v.items {
		if v.items[i] != o.items[i] {
			return false
		}
	}
	return true
}

func (v Value) String() string {
	switch {
	case v.IsNone():
		return "<none>"
	case !v.list:
		return v.items[0]
	default:
		return "[" + strings.Join(v.items, ", ") + "]"
	}
}
