package convert

// Member names of the arrays a dataset container may hold
const (
	MemberTrain     = "train"
	MemberTest      = "test"
	MemberNeighbors = "neighbors"
)

// ArraySource is a dataset container exposing named two-dimensional arrays.
type ArraySource interface {
	// Has reports whether the named array exists.
	Has(name string) (bool, error)
	// Open opens the named array for reading.
	Open(name string) (Array, error)
	Close() error
}

// Array is a row-major two-dimensional array read in row chunks.
type Array interface {
	Shape() (rows, cols int)
	// ReadFloats fills dst[:n*cols] with rows [start, start+n).
	ReadFloats(start, n int, dst []float64) error
	// ReadInts fills dst[:n*cols] with rows [start, start+n).
	ReadInts(start, n int, dst []int64) error
	Close() error
}
