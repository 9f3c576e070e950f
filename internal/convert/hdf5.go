package convert

import (
	"fmt"

	"gonum.org/v1/hdf5"
)

// HDF5Source reads ann-benchmarks style containers.
type HDF5Source struct {
	file *hdf5.File
}

// OpenHDF5 opens the container at path read-only.
func OpenHDF5(path string) (*HDF5Source, error) {
	f, err := hdf5.OpenFile(path, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("open hdf5 %s: %w", path, err)
	}
	return &HDF5Source{file: f}, nil
}

// Has reports whether the container links an object under name.
func (s *HDF5Source) Has(name string) (bool, error) {
	return s.file.LinkExists(name), nil
}

// Open opens a two-dimensional dataset.
func (s *HDF5Source) Open(name string) (Array, error) {
	ds, err := s.file.OpenDataset(name)
	if err != nil {
		return nil, fmt.Errorf("open dataset %q: %w", name, err)
	}

	space := ds.Space()
	dims, _, err := space.SimpleExtentDims()
	if err != nil {
		_ = space.Close()
		_ = ds.Close()
		return nil, fmt.Errorf("read extent of %q: %w", name, err)
	}
	if len(dims) != 2 {
		_ = space.Close()
		_ = ds.Close()
		return nil, fmt.Errorf("dataset %q: expected 2 dimensions, got %d", name, len(dims))
	}

	dtype, err := ds.Datatype()
	if err != nil {
		_ = space.Close()
		_ = ds.Close()
		return nil, fmt.Errorf("read datatype of %q: %w", name, err)
	}
	byteSize := dtype.Size()
	_ = dtype.Close()
	if byteSize != 4 && byteSize != 8 {
		_ = space.Close()
		_ = ds.Close()
		return nil, fmt.Errorf("dataset %q: unsupported element size %d", name, byteSize)
	}

	return &hdf5Array{
		ds:       ds,
		space:    space,
		rows:     dims[0],
		cols:     dims[1],
		byteSize: byteSize,
	}, nil
}

// Close closes the container.
func (s *HDF5Source) Close() error {
	return s.file.Close()
}

type hdf5Array struct {
	ds       *hdf5.Dataset
	space    *hdf5.Dataspace
	rows     uint
	cols     uint
	byteSize uint
}

func (a *hdf5Array) Shape() (int, int) {
	return int(a.rows), int(a.cols)
}

// selectRows points the file dataspace at rows [start, start+n) and returns
// a matching memory dataspace.
func (a *hdf5Array) selectRows(start, n int) (*hdf5.Dataspace, error) {
	if start < 0 || n <= 0 || uint(start+n) > a.rows {
		return nil, fmt.Errorf("row range [%d, %d) outside [0, %d)", start, start+n, a.rows)
	}
	count := []uint{uint(n), a.cols}
	if err := a.space.SelectHyperslab([]uint{uint(start), 0}, nil, count, nil); err != nil {
		return nil, fmt.Errorf("select hyperslab: %w", err)
	}
	memspace, err := hdf5.CreateSimpleDataspace(count, count)
	if err != nil {
		return nil, fmt.Errorf("create memspace: %w", err)
	}
	return memspace, nil
}

func (a *hdf5Array) ReadFloats(start, n int, dst []float64) error {
	memspace, err := a.selectRows(start, n)
	if err != nil {
		return err
	}
	defer func() { _ = memspace.Close() }()

	size := n * int(a.cols)
	switch a.byteSize {
	case 4:
		buf := make([]float32, size)
		if err := a.ds.ReadSubset(&buf, memspace, a.space); err != nil {
			return fmt.Errorf("read rows %d..%d: %w", start, start+n, err)
		}
		for i, v := range buf {
			dst[i] = float64(v)
		}
	default:
		buf := dst[:size]
		if err := a.ds.ReadSubset(&buf, memspace, a.space); err != nil {
			return fmt.Errorf("read rows %d..%d: %w", start, start+n, err)
		}
	}
	return nil
}

func (a *hdf5Array) ReadInts(start, n int, dst []int64) error {
	memspace, err := a.selectRows(start, n)
	if err != nil {
		return err
	}
	defer func() { _ = memspace.Close() }()

	size := n * int(a.cols)
	switch a.byteSize {
	case 4:
		buf := make([]int32, size)
		if err := a.ds.ReadSubset(&buf, memspace, a.space); err != nil {
			return fmt.Errorf("read rows %d..%d: %w", start, start+n, err)
		}
		for i, v := range buf {
			dst[i] = int64(v)
		}
	default:
		buf := dst[:size]
		if err := a.ds.ReadSubset(&buf, memspace, a.space); err != nil {
			return fmt.Errorf("read rows %d..%d: %w", start, start+n, err)
		}
	}
	return nil
}

func (a *hdf5Array) Close() error {
	_ = a.space.Close()
	return a.ds.Close()
}
