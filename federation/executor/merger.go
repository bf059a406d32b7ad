package executor

import (
	"fmt"

	"github.com/n9te9/federation-gateway/federation/planner"
	"github.com/n9te9/federation-gateway/internal/apperr"
	"github.com/n9te9/federation-gateway/internal/value"
)

// Merge writes src into dst at path: absent keys are assigned, matching
// objects recurse, equal scalars no-op, equal-length lists merge
// element-wise, and any other disagreement is a MergeConflict — a
// planner/executor bug, not a user-facing condition.
func Merge(dst *value.Object, src value.Value, path []planner.PathSegment) error {
	target, err := navigate(dst, path)
	if err != nil {
		return err
	}
	return mergeValue(target, src)
}

// navigate walks path inside root, creating intermediate object
// placeholders for missing keys: a path segment absent so far is not
// yet an error, since sibling fetches may populate surrounding
// structure first. An index segment right after a key selects that
// element of the existing list under the key, which must be an object.
func navigate(root *value.Object, path []planner.PathSegment) (*value.Object, error) {
	cur := root
	for i := 0; i < len(path); i++ {
		seg := path[i]
		if seg.FlattenList || seg.IsIndex {
			return nil, fmt.Errorf("navigate: cannot address a list segment on an object merge target")
		}
		existing, ok := cur.Get(seg.Key)
		if ok && i+1 < len(path) && path[i+1].IsIndex {
			items, idx := existing.List(), path[i+1].Index
			if existing.Kind() != value.KindList || idx >= len(items) || items[idx].Kind() != value.KindObject {
				return nil, &mergeConflict{msg: fmt.Sprintf("path segment %q[%d] is not an object inside a list", seg.Key, idx)}
			}
			cur = items[idx].Object()
			i++
			continue
		}
		if !ok {
			child := value.NewObject()
			cur.Set(seg.Key, value.Obj(child))
			cur = child
			continue
		}
		if existing.IsNull() {
			child := value.NewObject()
			cur.Set(seg.Key, value.Obj(child))
			cur = child
			continue
		}
		if existing.Kind() != value.KindObject {
			return nil, &mergeConflict{msg: fmt.Sprintf("path segment %q is not an object", seg.Key)}
		}
		cur = existing.Object()
	}
	return cur, nil
}

type mergeConflict struct{ msg string }

func (e *mergeConflict) Error() string { return e.msg }

func mergeValue(dst *value.Object, src value.Value) error {
	if src.Kind() != value.KindObject {
		return &mergeConflict{msg: "merge source at object position is not an object"}
	}
	srcObj := src.Object()
	for _, k := range srcObj.Keys() {
		sv, _ := srcObj.Get(k)
		dv, exists := dst.Get(k)
		if !exists {
			dst.Set(k, sv)
			continue
		}
		if err := mergeScalarOrRecurse(dst, k, dv, sv); err != nil {
			return err
		}
	}
	return nil
}

func mergeScalarOrRecurse(dst *value.Object, key string, dv, sv value.Value) error {
	if dv.Kind() == value.KindNull {
		dst.Set(key, sv)
		return nil
	}
	if sv.Kind() == value.KindNull {
		return nil
	}
	if dv.Kind() == value.KindObject && sv.Kind() == value.KindObject {
		merged := dv.Object()
		if err := mergeValue(merged, sv); err != nil {
			return err
		}
		dst.Set(key, value.Obj(merged))
		return nil
	}
	if dv.Kind() == value.KindList && sv.Kind() == value.KindList {
		dl, sl := dv.List(), sv.List()
		if len(dl) != len(sl) {
			return &mergeConflict{msg: fmt.Sprintf("field %q: list length mismatch on merge (%d vs %d)", key, len(dl), len(sl))}
		}
		out := make([]value.Value, len(dl))
		for i := range dl {
			if dl[i].Kind() == value.KindObject && sl[i].Kind() == value.KindObject {
				merged := dl[i].Object()
				if err := mergeValue(merged, sl[i]); err != nil {
					return err
				}
				out[i] = value.Obj(merged)
			} else if valuesEqual(dl[i], sl[i]) {
				out[i] = dl[i]
			} else {
				return &mergeConflict{msg: fmt.Sprintf("field %q: list element mismatch on merge", key)}
			}
		}
		dst.Set(key, value.List(out))
		return nil
	}
	if valuesEqual(dv, sv) {
		return nil
	}
	return &mergeConflict{msg: fmt.Sprintf("field %q: conflicting scalar values on merge", key)}
}

func valuesEqual(a, b value.Value) bool {
	if a.Kind() != b.Kind() {
		return false
	}
	switch a.Kind() {
	case value.KindNull:
		return true
	case value.KindBool:
		return a.Bool() == b.Bool()
	case value.KindInt:
		return a.Int() == b.Int()
	case value.KindFloat:
		return a.Float() == b.Float()
	case value.KindString, value.KindEnum:
		return a.String() == b.String()
	default:
		return false
	}
}

// AsMergeConflictError wraps err as a ServerError of kind
// MergeConflict; every error passed to it is classified that way.
func AsMergeConflictError(err error) *apperr.ServerError {
	return apperr.New(apperr.MergeConflict, "%s", err.Error())
}
