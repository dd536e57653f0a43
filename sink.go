package gpnet

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/arloliu/mebo"
	"github.com/arloliu/mebo/blob"
	"github.com/arloliu/mebo/format"
)

//////
// Const, vars, types.
//////

// Sink receives the named numeric artifacts a fit or an active-learning
// run produces (loss trace, hyperparameter trace, predictions, targets,
// uncertainty, migrated indices). The core never touches the filesystem
// directly; tests run against MemorySink.
type Sink interface {
	// Record persists one named array. Implementations must round-trip
	// the values losslessly.
	Record(name string, values []float64) error
}

// Discard is a Sink that drops everything. It is the default when no sink
// is configured.
var Discard Sink = discardSink{}

type discardSink struct{}

// MemorySink keeps recorded arrays in memory, keyed by name. Recording the
// same name twice overwrites the previous array, mirroring how a directory
// sink overwrites files.
type MemorySink struct {
	arrays map[string][]float64
}

// DirSink persists each named array as a numeric blob file under a
// directory, one file per named quantity. Values are stored with raw
// (bit-exact) encoding, using the array index as the timestamp, so a
// Load after Record yields bit-identical float64 values.
type DirSink struct {
	dir string
}

// sinkEpoch anchors blob start times. The timestamps are array indices,
// not wall-clock times.
var sinkEpoch = time.Unix(0, 0)

//////
// Methods.
//////

func (discardSink) Record(string, []float64) error {
	return nil
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{arrays: make(map[string][]float64)}
}

// Record stores a copy of the array.
func (s *MemorySink) Record(name string, values []float64) error {
	cp := make([]float64, len(values))
	copy(cp, values)

	s.arrays[name] = cp

	return nil
}

// Load returns the recorded array and whether it exists.
func (s *MemorySink) Load(name string) ([]float64, bool) {
	values, ok := s.arrays[name]

	return values, ok
}

// Names returns the recorded artifact names, unordered.
func (s *MemorySink) Names() []string {
	names := make([]string, 0, len(s.arrays))
	for name := range s.arrays {
		names = append(names, name)
	}

	return names
}

// NewDirSink creates the directory (and any missing parents) and returns a
// sink writing into it.
func NewDirSink(dir string) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("gpnet: creating sink directory: %w", err)
	}

	return &DirSink{dir: dir}, nil
}

// Dir returns the directory the sink writes into.
func (s *DirSink) Dir() string {
	return s.dir
}

// Record writes the array to <dir>/<name>.mebo. An existing file with the
// same name is overwritten.
func (s *DirSink) Record(name string, values []float64) error {
	if len(values) == 0 {
		return fmt.Errorf("gpnet: artifact %q is empty", name)
	}

	enc, err := mebo.NewNumericEncoder(sinkEpoch,
		blob.WithLittleEndian(),
		blob.WithTimestampEncoding(format.TypeDelta),
		blob.WithValueEncoding(format.TypeRaw),
		blob.WithValueCompression(format.CompressionNone),
	)
	if err != nil {
		return fmt.Errorf("gpnet: creating encoder for %q: %w", name, err)
	}

	if err := enc.StartMetricName(name, len(values)); err != nil {
		return fmt.Errorf("gpnet: encoding %q: %w", name, err)
	}

	for i, v := range values {
		if err := enc.AddDataPoint(int64(i), v, ""); err != nil {
			return fmt.Errorf("gpnet: encoding %q: %w", name, err)
		}
	}

	if err := enc.EndMetric(); err != nil {
		return fmt.Errorf("gpnet: encoding %q: %w", name, err)
	}

	data, err := enc.Finish()
	if err != nil {
		return fmt.Errorf("gpnet: encoding %q: %w", name, err)
	}

	return os.WriteFile(s.path(name), data, 0o644)
}

// Load reads a previously recorded array back, bit-identical to what was
// recorded.
func (s *DirSink) Load(name string) ([]float64, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		return nil, fmt.Errorf("gpnet: reading artifact %q: %w", name, err)
	}

	dec, err := mebo.NewNumericDecoder(data)
	if err != nil {
		return nil, fmt.Errorf("gpnet: decoding artifact %q: %w", name, err)
	}

	decoded, err := dec.Decode()
	if err != nil {
		return nil, fmt.Errorf("gpnet: decoding artifact %q: %w", name, err)
	}

	values := make([]float64, 0, decoded.LenByName(name))
	for v := range decoded.AllValuesByName(name) {
		values = append(values, v)
	}

	return values, nil
}

func (s *DirSink) path(name string) string {
	return filepath.Join(s.dir, name+".mebo")
}
