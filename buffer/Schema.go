package buffer

import (
	"fmt"

	"gorgonia.org/tensor"
)

// FieldSchema describes one named field of a Buffer. Each row of the
// field is a fixed-shape numeric array. An empty Shape describes a
// scalar field.
type FieldSchema struct {
	Name  string
	Dtype tensor.Dtype
	Shape []int
}

// Scalar returns a FieldSchema for a float64 scalar field
func Scalar(name string) FieldSchema {
	return FieldSchema{Name: name, Dtype: tensor.Float64}
}

// Vector returns a FieldSchema for a float64 field holding vectors
// of length size
func Vector(name string, size int) FieldSchema {
	return FieldSchema{Name: name, Dtype: tensor.Float64, Shape: []int{size}}
}

// UnitLength returns the number of elements in a single row of the
// field.
func (f FieldSchema) UnitLength() int {
	length := 1
	for _, dim := range f.Shape {
		length *= dim
	}
	return length
}

// rowShape returns the shape of n rows of the field
func (f FieldSchema) rowShape(n int) []int {
	shape := make([]int, 0, len(f.Shape)+1)
	shape = append(shape, n)
	return append(shape, f.Shape...)
}

// validate checks that the FieldSchema is usable by a Buffer
func (f FieldSchema) validate() error {
	if f.Name == "" {
		return fmt.Errorf("field name cannot be empty")
	}
	for _, dim := range f.Shape {
		if dim <= 0 {
			return fmt.Errorf("field %q: dimensions must be positive "+
				"\n\thave(%v)", f.Name, f.Shape)
		}
	}
	if f.Dtype != tensor.Float64 && f.Dtype != tensor.Float32 {
		return fmt.Errorf("field %q: unsupported dtype %v", f.Name, f.Dtype)
	}
	return nil
}

// Query requests one field from a sampling operation. Each sampled
// row of the field is read Offset rows away from the sampled index,
// and is returned under Key, or under the field's name if Key is
// empty.
type Query struct {
	Field  string
	Offset int
	Key    string
}

// key returns the output key of the Query
func (q Query) key() string {
	if q.Key == "" {
		return q.Field
	}
	return q.Key
}

// Fields returns one Query with no offset for each named field
func Fields(names ...string) []Query {
	queries := make([]Query, len(names))
	for i, name := range names {
		queries[i] = Query{Field: name}
	}
	return queries
}
