package ncio

import (
	"fmt"
	"reflect"
)

// Floats flattens a value returned by Var.Read into a []float64, in
// row-major order. The reader returns nested slices for multi-dimensional
// variables and scalars for 0-dimensional ones.
func Floats(val interface{}) ([]float64, error) {
	out := make([]float64, 0, 16)
	if err := appendFloats(&out, reflect.ValueOf(val)); err != nil {
		return nil, err
	}
	return out, nil
}

func appendFloats(out *[]float64, v reflect.Value) error {
	if !v.IsValid() {
		return fmt.Errorf("nil value")
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := appendFloats(out, v.Index(i)); err != nil {
				return err
			}
		}
		return nil
	case reflect.Float32, reflect.Float64:
		*out = append(*out, v.Float())
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		*out = append(*out, float64(v.Int()))
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		*out = append(*out, float64(v.Uint()))
		return nil
	case reflect.Interface:
		return appendFloats(out, v.Elem())
	default:
		return fmt.Errorf("non-numeric value of type %T", v.Interface())
	}
}
