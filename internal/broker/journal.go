package broker

import (
	"fmt"
	"io"
	"os"

	"github.com/gocarina/gocsv"

	"simbroker/internal/domain"
)

// Journal is the append-only sink for trade records.
type Journal interface {
	Record(rec domain.TradeRecord) error
	Close() error
}

// Compile-time interface checks.
var _ Journal = nopJournal{}
var _ Journal = (*CSVJournal)(nil)

type nopJournal struct{}

func (nopJournal) Record(domain.TradeRecord) error { return nil }
func (nopJournal) Close() error                    { return nil }

// CSVJournal appends trade records as CSV rows.
type CSVJournal struct {
	w          io.Writer
	closer     io.Closer
	needHeader bool
}

// NewCSVJournal writes to an already open stream. The stream is not closed
// by Close.
func NewCSVJournal(w io.Writer, header bool) *CSVJournal {
	return &CSVJournal{w: w, needHeader: header}
}

// OpenCSVJournal opens path for appending, creating it when missing. The
// header row is written only into an empty file.
func OpenCSVJournal(path string) (*CSVJournal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening journal %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat journal %s: %w", path, err)
	}
	return &CSVJournal{w: f, closer: f, needHeader: info.Size() == 0}, nil
}

// Record appends one row.
func (j *CSVJournal) Record(rec domain.TradeRecord) error {
	rows := []*domain.TradeRecord{&rec}
	if j.needHeader {
		if err := gocsv.Marshal(rows, j.w); err != nil {
			return fmt.Errorf("writing journal row: %w", err)
		}
		j.needHeader = false
		return nil
	}
	if err := gocsv.MarshalWithoutHeaders(rows, j.w); err != nil {
		return fmt.Errorf("writing journal row: %w", err)
	}
	return nil
}

// Close closes the underlying file when the journal opened it.
func (j *CSVJournal) Close() error {
	if j.closer == nil {
		return nil
	}
	err := j.closer.Close()
	j.closer = nil
	return err
}
