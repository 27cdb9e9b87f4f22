// Package shuffle is the in-process stand-in for the batch framework's
// shuffle: emission tasks write partitioned, sorted runs and each merge
// task reads its partition back as one totally ordered, grouped stream.
package shuffle

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/internal/occurrence"
	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/pkg/logger"
)

const defaultSpillThreshold = 1 << 20

// Options configures a MapOutput.
type Options struct {
	Partitions int
	// SpillThreshold is the number of buffered records that triggers a
	// sorted spill to SpillDir. Zero uses a default; negative never spills.
	SpillThreshold int
	SpillDir       string
}

// MapOutput collects the records of one emission task. It is not safe for
// concurrent use; every task owns its own.
type MapOutput struct {
	opts     Options
	buffers  [][]occurrence.Record
	buffered int
	runs     [][]Run
	spills   int
	logger   *slog.Logger
}

// NewMapOutput creates an empty task output.
func NewMapOutput(opts Options) *MapOutput {
	if opts.Partitions < 1 {
		opts.Partitions = 1
	}
	if opts.SpillThreshold == 0 {
		opts.SpillThreshold = defaultSpillThreshold
	}
	if opts.SpillDir == "" {
		opts.SpillDir = os.TempDir()
	}
	return &MapOutput{
		opts:    opts,
		buffers: make([][]occurrence.Record, opts.Partitions),
		runs:    make([][]Run, opts.Partitions),
		logger:  logger.WithComponent("shuffle"),
	}
}

// Collect routes r to its partition buffer.
func (m *MapOutput) Collect(r occurrence.Record) error {
	p := occurrence.Partition(r.Term, m.opts.Partitions)
	m.buffers[p] = append(m.buffers[p], r)
	m.buffered++
	if m.opts.SpillThreshold > 0 && m.buffered >= m.opts.SpillThreshold {
		return m.spill()
	}
	return nil
}

func (m *MapOutput) spill() error {
	for p, buf := range m.buffers {
		if len(buf) == 0 {
			continue
		}
		slices.SortFunc(buf, occurrence.Compare)
		path, err := writeRun(m.opts.SpillDir, buf)
		if err != nil {
			return err
		}
		m.runs[p] = append(m.runs[p], &fileRun{path: path})
		m.buffers[p] = buf[:0:0]
	}
	m.spills++
	m.logger.Debug("spilled sorted runs", "records", m.buffered, "spills", m.spills)
	m.buffered = 0
	return nil
}

// Finish sorts what is still buffered and returns the sorted runs of every
// partition. The MapOutput must not be used afterwards.
func (m *MapOutput) Finish() [][]Run {
	for p, buf := range m.buffers {
		if len(buf) == 0 {
			continue
		}
		slices.SortFunc(buf, occurrence.Compare)
		m.runs[p] = append(m.runs[p], &memRun{records: buf})
		m.buffers[p] = nil
	}
	m.buffered = 0
	return m.runs
}

// Discard removes any spill files; used when the task fails.
func (m *MapOutput) Discard() {
	for _, runs := range m.runs {
		for _, r := range runs {
			r.Close()
		}
	}
}

func writeRun(dir string, records []occurrence.Record) (path string, err error) {
	f, err := os.CreateTemp(dir, "rdx-run-*.bin")
	if err != nil {
		return "", fmt.Errorf("%w: creating spill file: %v", apperrors.ErrIO, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: closing spill file: %v", apperrors.ErrIO, cerr)
		}
		if err != nil {
			os.Remove(f.Name())
		}
	}()
	w := bufio.NewWriterSize(f, 256*1024)
	var scratch []byte
	for _, r := range records {
		scratch = occurrence.AppendBinary(scratch[:0], r)
		if _, err := w.Write(scratch); err != nil {
			return "", fmt.Errorf("%w: writing spill file: %v", apperrors.ErrIO, err)
		}
	}
	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("%w: flushing spill file: %v", apperrors.ErrIO, err)
	}
	return f.Name(), nil
}

// Run is a sorted sequence of records. Next returns io.EOF when exhausted.
type Run interface {
	Next() (occurrence.Record, error)
	Close() error
}

type memRun struct {
	records []occurrence.Record
	pos     int
}

func (r *memRun) Next() (occurrence.Record, error) {
	if r.pos >= len(r.records) {
		return occurrence.Record{}, io.EOF
	}
	rec := r.records[r.pos]
	r.pos++
	return rec, nil
}

func (r *memRun) Close() error {
	r.records = nil
	return nil
}

// fileRun opens its spill file lazily so that many runs can wait for the
// merge without holding descriptors.
type fileRun struct {
	path string
	f    *os.File
	br   *bufio.Reader
}

func (r *fileRun) Next() (occurrence.Record, error) {
	if r.br == nil {
		f, err := os.Open(r.path)
		if err != nil {
			return occurrence.Record{}, fmt.Errorf("%w: opening spill file: %v", apperrors.ErrIO, err)
		}
		r.f = f
		r.br = bufio.NewReaderSize(f, 64*1024)
	}
	rec, err := occurrence.ReadBinary(r.br)
	if err != nil && err != io.EOF {
		return rec, fmt.Errorf("%w: reading spill file %s: %v", apperrors.ErrIO, r.path, err)
	}
	return rec, err
}

func (r *fileRun) Close() error {
	if r.f != nil {
		r.f.Close()
		r.f = nil
	}
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
