package samples

// Snapshot is a batch of telemetry rows in arrival order.
type Snapshot struct {
	data  []int64
	width int

	// Generation counts the flips that produced this batch. Zero means no
	// batch has completed yet.
	Generation uint64
}

// Len returns the number of rows in the snapshot.
func (s Snapshot) Len() int {
	if s.width == 0 {
		return 0
	}
	return len(s.data) / s.width
}

// Width returns the number of columns per row.
func (s Snapshot) Width() int {
	return s.width
}

// Row returns the i-th row. The slice must not be modified.
func (s Snapshot) Row(i int) []int64 {
	start := i * s.width
	return s.data[start : start+s.width : start+s.width]
}

// Rows returns every row as a slice of sub-slices.
func (s Snapshot) Rows() [][]int64 {
	n := s.Len()
	rows := make([][]int64, n)
	for i := 0; i < n; i++ {
		rows[i] = s.Row(i)
	}
	return rows
}

// Last returns the most recent row, or nil for an empty snapshot.
func (s Snapshot) Last() []int64 {
	n := s.Len()
	if n == 0 {
		return nil
	}
	return s.Row(n - 1)
}

// Column returns a copy of column c across all rows.
func (s Snapshot) Column(c int) []int64 {
	if c < 0 || c >= s.width {
		return nil
	}
	n := s.Len()
	col := make([]int64, n)
	for i := 0; i < n; i++ {
		col[i] = s.data[i*s.width+c]
	}
	return col
}

// Clone returns a snapshot backed by its own copy of the data.
func (s Snapshot) Clone() Snapshot {
	data := make([]int64, len(s.data))
	copy(data, s.data)
	return Snapshot{data: data, width: s.width, Generation: s.Generation}
}
