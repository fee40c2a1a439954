// Package buffer implements a fixed-capacity ring buffer of named,
// fixed-shape data fields.
//
// Every field is stored in its own flat backing slice holding
// capacity rows. Rows of all fields are always written together, so
// that row i of one field and row i of another belong to the same
// transition. Once the Buffer is full, new rows overwrite the oldest
// rows.
package buffer

import (
	"fmt"
	"sort"

	"golang.org/x/exp/rand"
	"gorgonia.org/tensor"
)

// Buffer is a ring buffer of multiple named fields. A Buffer is not
// safe for concurrent use.
type Buffer struct {
	fields  []FieldSchema
	index   map[string]int
	storage [][]float64

	capacity int
	cursor   int // Next row to be written
	count    int // Number of valid rows, saturates at capacity

	rng *rand.Rand
}

// New creates and returns a new Buffer holding at most capacity rows
// of each field. The seed determines the Buffer's sampling order.
func New(capacity int, fields []FieldSchema, seed uint64) (*Buffer, error) {
	if capacity < 1 {
		return nil, &BufferError{Op: "new", Err: fmt.Errorf("%w: capacity "+
			"must be positive \n\thave(%v)", ErrInvalidArgument, capacity)}
	}
	if len(fields) == 0 {
		return nil, &BufferError{Op: "new", Err: fmt.Errorf("%w: at least "+
			"one field is required", ErrInvalidArgument)}
	}

	index := make(map[string]int, len(fields))
	storage := make([][]float64, len(fields))
	schemas := make([]FieldSchema, len(fields))
	for i, field := range fields {
		if err := field.validate(); err != nil {
			return nil, &BufferError{Op: "new", Err: fmt.Errorf("%w: %v",
				ErrInvalidArgument, err)}
		}
		if _, ok := index[field.Name]; ok {
			return nil, &BufferError{Op: "new", Err: fmt.Errorf("%w: "+
				"duplicate field %q", ErrInvalidArgument, field.Name)}
		}

		index[field.Name] = i
		storage[i] = make([]float64, capacity*field.UnitLength())

		// Copy the shape so that the caller cannot change it
		schemas[i] = field
		schemas[i].Shape = append([]int(nil), field.Shape...)
	}

	return &Buffer{
		fields:   schemas,
		index:    index,
		storage:  storage,
		capacity: capacity,
		rng:      rand.New(rand.NewSource(seed)),
	}, nil
}

// Capacity returns the maximum number of rows the Buffer can hold
func (b *Buffer) Capacity() int {
	return b.capacity
}

// Count returns the number of valid rows in the Buffer
func (b *Buffer) Count() int {
	return b.count
}

// Cursor returns the index of the next row to be overwritten
func (b *Buffer) Cursor() int {
	return b.cursor
}

// Fields returns the schemas of all fields in the Buffer
func (b *Buffer) Fields() []FieldSchema {
	fields := make([]FieldSchema, len(b.fields))
	copy(fields, b.fields)
	return fields
}

// Field returns the schema of the field called name
func (b *Buffer) Field(name string) (FieldSchema, bool) {
	i, ok := b.index[name]
	if !ok {
		return FieldSchema{}, false
	}
	return b.fields[i], true
}

// Clear marks all rows in the Buffer as stale. Backing storage is
// kept for reuse.
func (b *Buffer) Clear() {
	b.cursor = 0
	b.count = 0
}

// Append writes rows of data to the Buffer, starting at the cursor
// and wrapping around to the start of the Buffer when the end is
// reached. The rows map must contain the flattened data of every
// field in the Buffer and no other field, and every field must
// contain the same number of rows.
//
// The data is checked before anything is written, so a failed Append
// leaves the Buffer unchanged. If more than Capacity() rows are
// given, only the last Capacity() rows are kept, placed where they
// would have ended up had each row been appended one at a time.
func (b *Buffer) Append(rows map[string][]float64) error {
	numRows, err := b.rowCount(rows)
	if err != nil {
		return &BufferError{Op: "append", Err: err}
	}
	if numRows == 0 {
		return nil
	}

	skip := 0
	if numRows > b.capacity {
		skip = numRows - b.capacity
	}
	start := (b.cursor + skip) % b.capacity
	toWrite := numRows - skip

	for i, field := range b.fields {
		unit := field.UnitLength()
		data := rows[field.Name][skip*unit:]

		// Fill to the end of the ring, then wrap to the start
		firstRows := toWrite
		if remaining := b.capacity - start; firstRows > remaining {
			firstRows = remaining
		}
		copy(b.storage[i][start*unit:], data[:firstRows*unit])
		copy(b.storage[i], data[firstRows*unit:])
	}

	b.cursor = (b.cursor + numRows) % b.capacity
	b.count += numRows
	if b.count > b.capacity {
		b.count = b.capacity
	}

	return nil
}

// rowCount validates rows against the schema and returns the number
// of rows they contain.
func (b *Buffer) rowCount(rows map[string][]float64) (int, error) {
	for name := range rows {
		if _, ok := b.index[name]; !ok {
			return 0, fmt.Errorf("%w: unknown field %q", ErrSchemaMismatch,
				name)
		}
	}

	numRows := -1
	for _, field := range b.fields {
		data, ok := rows[field.Name]
		if !ok {
			return 0, fmt.Errorf("%w: missing field %q", ErrSchemaMismatch,
				field.Name)
		}

		unit := field.UnitLength()
		if len(data)%unit != 0 {
			return 0, fmt.Errorf("%w: field %q data length %v is not a "+
				"multiple of its unit length %v", ErrSchemaMismatch,
				field.Name, len(data), unit)
		}

		n := len(data) / unit
		if numRows >= 0 && n != numRows {
			return 0, fmt.Errorf("%w: field %q has the wrong number of "+
				"rows \n\twant(%v)\n\thave(%v)", ErrSchemaMismatch,
				field.Name, numRows, n)
		}
		numRows = n
	}
	return numRows, nil
}

// RandomSample samples n rows with replacement. For each of the n
// draws a base index is chosen uniformly from the valid rows, and each
// Query reads the row Offset rows away from the base index, modulo
// the number of valid rows. All queries share the base index of a
// draw. The result maps each Query's key to a tensor of shape
// [n, field shape...].
func (b *Buffer) RandomSample(n int,
	queries []Query) (map[string]*tensor.Dense, error) {
	if n <= 0 {
		return nil, &BufferError{Op: "randomsample", Err: fmt.Errorf("%w: "+
			"sample size must be positive \n\thave(%v)", ErrInvalidArgument,
			n)}
	}
	if n > b.count {
		return nil, &BufferError{Op: "randomsample", Err: fmt.Errorf("%w: "+
			"cannot sample %v rows from %v", ErrInsufficientData, n,
			b.count)}
	}

	indices := make([]int, n)
	for i := range indices {
		indices[i] = b.rng.Intn(b.count)
	}

	out, err := b.gather(indices, queries)
	if err != nil {
		return nil, &BufferError{Op: "randomsample", Err: err}
	}
	return out, nil
}

// SampleBatchesReordered returns the largest whole number of batches
// of size batchSize that the valid rows can fill, as a random
// permutation of the floor(Count()/batchSize)*batchSize most recently
// written rows, so that no row is repeated. If maxBatches > 0, at most maxBatches
// batches are returned. Offsets are applied as in RandomSample.
//
// Each returned tensor has shape [numBatches*batchSize, field
// shape...]; consecutive runs of batchSize rows form the batches.
func (b *Buffer) SampleBatchesReordered(batchSize, maxBatches int,
	queries []Query) (map[string]*tensor.Dense, error) {
	if batchSize <= 0 {
		return nil, &BufferError{Op: "samplebatchesreordered", Err: fmt.
			Errorf("%w: batch size must be positive \n\thave(%v)",
				ErrInvalidArgument, batchSize)}
	}
	if batchSize > b.count {
		return nil, &BufferError{Op: "samplebatchesreordered", Err: fmt.
			Errorf("%w: cannot fill a batch of %v rows from %v",
				ErrInsufficientData, batchSize, b.count)}
	}

	// The newest row sits just before the cursor, both before and
	// after the ring wraps
	usable := (b.count / batchSize) * batchSize
	indices := make([]int, usable)
	for i := range indices {
		indices[i] = mod(b.cursor-usable+i, b.count)
	}
	b.rng.Shuffle(len(indices), func(i, j int) {
		indices[i], indices[j] = indices[j], indices[i]
	})

	if maxBatches > 0 && maxBatches*batchSize < usable {
		indices = indices[:maxBatches*batchSize]
	}

	out, err := b.gather(indices, queries)
	if err != nil {
		return nil, &BufferError{Op: "samplebatchesreordered", Err: err}
	}
	return out, nil
}

// gather reads the rows at indices, shifted by each Query's offset,
// into one tensor per Query.
func (b *Buffer) gather(indices []int,
	queries []Query) (map[string]*tensor.Dense, error) {
	if len(queries) == 0 {
		return nil, fmt.Errorf("%w: no fields requested", ErrInvalidArgument)
	}

	out := make(map[string]*tensor.Dense, len(queries))
	for _, q := range queries {
		i, ok := b.index[q.Field]
		if !ok {
			return nil, fmt.Errorf("%w: unknown field %q", ErrSchemaMismatch,
				q.Field)
		}
		if _, ok := out[q.key()]; ok {
			return nil, fmt.Errorf("%w: duplicate output key %q",
				ErrInvalidArgument, q.key())
		}

		field := b.fields[i]
		unit := field.UnitLength()
		data := make([]float64, len(indices)*unit)
		for row, idx := range indices {
			src := mod(idx+q.Offset, b.count) * unit
			copy(data[row*unit:(row+1)*unit], b.storage[i][src:src+unit])
		}

		out[q.key()] = newDense(field, len(indices), data)
	}
	return out, nil
}

// Keys returns the sorted output keys of a sample
func Keys(sample map[string]*tensor.Dense) []string {
	keys := make([]string, 0, len(sample))
	for key := range sample {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// newDense wraps n rows of a field in a tensor of the field's dtype
func newDense(field FieldSchema, n int, data []float64) *tensor.Dense {
	shape := field.rowShape(n)
	if field.Dtype == tensor.Float32 {
		data32 := make([]float32, len(data))
		for i, v := range data {
			data32[i] = float32(v)
		}
		return tensor.New(tensor.WithShape(shape...),
			tensor.WithBacking(data32))
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}

// mod returns the non-negative remainder of a divided by n
func mod(a, n int) int {
	r := a % n
	if r < 0 {
		r += n
	}
	return r
}
