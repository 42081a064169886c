package audit

import (
	"fmt"
	"reflect"
)

// auditTag marks struct fields excluded from diffing, e.g. password
// hashes: `audit:"-"`.
const auditTag = "audit"

// Snapshot captures every auditable exported field of an entity as a
// column→value map, in struct declaration order. Used for create and
// delete trails where there is no counterpart to diff against.
func Snapshot(entity interface{}) (map[string]interface{}, []string, error) {
	v, err := structValue(entity)
	if err != nil {
		return nil, nil, err
	}

	values := make(map[string]interface{})
	var columns []string
	forEachAuditedField(v, func(name string, value reflect.Value) {
		values[name] = value.Interface()
		columns = append(columns, name)
	})
	return values, columns, nil
}

// Diff compares two snapshots of the same entity type and returns the
// changed column names in declaration order together with the old and
// new values of exactly those columns. Unchanged columns are omitted
// from both maps.
func Diff(before, after interface{}) (changed []string, oldValues, newValues map[string]interface{}, err error) {
	bv, err := structValue(before)
	if err != nil {
		return nil, nil, nil, err
	}
	av, err := structValue(after)
	if err != nil {
		return nil, nil, nil, err
	}
	if bv.Type() != av.Type() {
		return nil, nil, nil, fmt.Errorf("cannot diff %s against %s", bv.Type(), av.Type())
	}

	oldValues = make(map[string]interface{})
	newValues = make(map[string]interface{})
	forEachAuditedField(bv, func(name string, value reflect.Value) {
		other := av.FieldByName(name)
		if reflect.DeepEqual(value.Interface(), other.Interface()) {
			return
		}
		changed = append(changed, name)
		oldValues[name] = value.Interface()
		newValues[name] = other.Interface()
	})
	return changed, oldValues, newValues, nil
}

func structValue(entity interface{}) (reflect.Value, error) {
	v := reflect.ValueOf(entity)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return reflect.Value{}, fmt.Errorf("cannot audit nil entity")
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("cannot audit %s, want struct", v.Kind())
	}
	return v, nil
}

// forEachAuditedField visits exported, non-excluded fields in
// declaration order.
func forEachAuditedField(v reflect.Value, visit func(name string, value reflect.Value)) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		if field.Tag.Get(auditTag) == "-" {
			continue
		}
		visit(field.Name, v.Field(i))
	}
}
