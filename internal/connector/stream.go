package connector

// SliceStream adapts materialized rows to the RowStream contract. Backends
// that compute results eagerly (memory, redis) and the engine's fallback
// paths use it.
type SliceStream struct {
	rows    []Row
	pos     int
	current Row
	err     error
	closed  bool
}

// NewSliceStream wraps rows in a single-pass stream
func NewSliceStream(rows []Row) *SliceStream {
	return &SliceStream{rows: rows}
}

// NewErrStream returns a stream that fails immediately
func NewErrStream(err error) *SliceStream {
	return &SliceStream{err: err}
}

func (s *SliceStream) Next() bool {
	if s.closed || s.err != nil || s.pos >= len(s.rows) {
		return false
	}
	s.current = s.rows[s.pos]
	s.pos++
	return true
}

func (s *SliceStream) Row() Row {
	return s.current
}

func (s *SliceStream) Err() error {
	return s.err
}

func (s *SliceStream) Close() error {
	s.closed = true
	return nil
}

// Collect drains a stream into a slice and closes it
func Collect(stream RowStream) ([]Row, error) {
	defer stream.Close()

	var rows []Row
	for stream.Next() {
		rows = append(rows, stream.Row())
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}
