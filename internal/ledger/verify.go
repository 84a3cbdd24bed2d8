package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultVerifyPageSize is the number of entries read per storage round trip
// during verification.
const DefaultVerifyPageSize = 500

// VerifyOptions selects the inclusive range to verify. Zero values mean
// "from the first entry" and "up to the tail at the start of the run".
type VerifyOptions struct {
	From int64
	To   int64
}

// Violation is one integrity problem found by VerifyIntegrity.
type Violation struct {
	SequenceNumber int64  `json:"sequence_number"`
	Error          string `json:"error"`
}

// Report is the outcome of a verification run. Valid is true iff Errors is empty.
type Report struct {
	Valid        bool        `json:"valid"`
	TotalChecked int         `json:"total_checked"`
	From         int64       `json:"from"`
	To           int64       `json:"to"`
	Errors       []Violation `json:"errors"`
}

func (r *Report) add(seq int64, format string, args ...any) {
	r.Errors = append(r.Errors, Violation{SequenceNumber: seq, Error: fmt.Sprintf(format, args...)})
}

// Verifier walks the ledger and recomputes the hash chain. It only reads.
type Verifier struct {
	store    Store
	pageSize int
	logger   *zap.Logger
}

// NewVerifier creates a Verifier reading pageSize entries per round trip.
func NewVerifier(store Store, pageSize int, logger *zap.Logger) *Verifier {
	if pageSize <= 0 {
		pageSize = DefaultVerifyPageSize
	}
	return &Verifier{store: store, pageSize: pageSize, logger: logger}
}

// VerifyIntegrity checks every entry in the requested range for sequence
// gaps, broken linkage to its predecessor and content that no longer matches
// its stored hash. All problems are collected in the report; the scan never
// stops at the first one.
//
// A range starting above 1 is anchored on the entry just before it, so the
// first entry's PreviousHash is checked rather than trusted.
//
// The returned error is non-nil only when the store cannot be read.
func (v *Verifier) VerifyIntegrity(ctx context.Context, opts VerifyOptions) (*Report, error) {
	ctx, span := tracer.Start(ctx, "ledger.VerifyIntegrity", trace.WithAttributes(
		attribute.Int64("from", opts.From),
		attribute.Int64("to", opts.To),
	))
	defer span.End()

	report, err := v.verify(ctx, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "verification aborted")
		if !errors.Is(err, ErrValidation) {
			verificationsTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("total_checked", report.TotalChecked),
		attribute.Int("violations", len(report.Errors)),
	)
	lastViolations.Set(float64(len(report.Errors)))
	if report.Valid {
		verificationsTotal.WithLabelValues("valid").Inc()
	} else {
		verificationsTotal.WithLabelValues("invalid").Inc()
		v.logger.Warn("ledger integrity violations detected",
			zap.Int64("from", report.From),
			zap.Int64("to", report.To),
			zap.Int("violations", len(report.Errors)),
			zap.Int64("first_bad_seq", report.Errors[0].SequenceNumber),
		)
	}
	return report, nil
}

func (v *Verifier) verify(ctx context.Context, opts VerifyOptions) (*Report, error) {
	if opts.From < 0 || opts.To < 0 {
		return nil, &ValidationError{Field: "range", Reason: "bounds must not be negative"}
	}
	if opts.To != 0 && opts.From > opts.To {
		return nil, &ValidationError{Field: "range", Reason: "from must not be after to"}
	}

	tail, err := v.store.Tail(ctx)
	if err != nil {
		return nil, &StorageError{Op: "read tail", Err: err}
	}

	from, to := opts.From, opts.To
	if from < 1 {
		from = 1
	}
	openEnded := to == 0 || to > tail.Sequence
	if openEnded {
		to = tail.Sequence
	}
	report := &Report{From: from, To: to, Errors: []Violation{}}
	if from > to {
		if openEnded {
			if err := v.checkBeyondTail(ctx, report, tail); err != nil {
				return nil, err
			}
		}
		report.Valid = len(report.Errors) == 0
		return report, nil
	}

	w := walk{report: report, expected: from, prevHash: GenesisHash}
	if from > 1 {
		prev, err := v.store.Get(ctx, from-1)
		switch {
		case errors.Is(err, ErrNotFound):
			report.add(from, "predecessor %d is missing; linkage cannot be established", from-1)
			w.prevHash = ""
		case err != nil:
			return nil, &StorageError{Op: "read predecessor", Err: err}
		default:
			w.prevHash = prev.CurrentHash
		}
	}

	after := from - 1
	for {
		page, err := v.store.Range(ctx, after, to, v.pageSize)
		if err != nil {
			return nil, &StorageError{Op: "read range", Err: err}
		}
		for _, e := range page {
			w.check(e)
			after = e.SequenceNumber
		}
		if len(page) < v.pageSize {
			break
		}
	}

	if w.expected <= to {
		if w.expected == to {
			report.add(w.expected, "entry %d is missing", w.expected)
		} else {
			report.add(w.expected, "entries %d..%d are missing", w.expected, to)
		}
	}
	if to == tail.Sequence && w.lastSeq == tail.Sequence && w.prevHash != tail.Hash {
		report.add(tail.Sequence, "tail hash does not match current_hash of entry %d", tail.Sequence)
	}
	if openEnded {
		if err := v.checkBeyondTail(ctx, report, tail); err != nil {
			return nil, err
		}
	}

	report.Valid = len(report.Errors) == 0
	return report, nil
}

// checkBeyondTail reports an entry stored past the tail snapshot that no
// committed tail accounts for. Such a row was written around Commit.
func (v *Verifier) checkBeyondTail(ctx context.Context, report *Report, snapshot Tail) error {
	page, err := v.store.Range(ctx, snapshot.Sequence, math.MaxInt64, 1)
	if err != nil {
		return &StorageError{Op: "read beyond tail", Err: err}
	}
	if len(page) == 0 {
		return nil
	}
	// Appends that committed after the snapshot advanced the tail with them.
	current, err := v.store.Tail(ctx)
	if err != nil {
		return &StorageError{Op: "read tail", Err: err}
	}
	if seq := page[0].SequenceNumber; seq > current.Sequence {
		report.add(seq, "entry beyond tail: tail is at %d", current.Sequence)
	}
	return nil
}

// walk carries the chain state between consecutive entries of one scan.
type walk struct {
	report   *Report
	expected int64  // sequence number the next entry must carry
	prevHash string // CurrentHash of entry expected-1; "" when unknown
	lastSeq  int64
}

func (w *walk) check(e *Entry) {
	w.report.TotalChecked++
	seq := e.SequenceNumber

	switch {
	case seq != w.expected:
		w.report.add(seq, "sequence gap: expected %d, found %d", w.expected, seq)
	case w.prevHash == "":
	case e.PreviousHash != w.prevHash && seq == 1:
		w.report.add(seq, "previous_hash is not the genesis hash")
	case e.PreviousHash != w.prevHash:
		w.report.add(seq, "previous_hash does not match current_hash of entry %d", seq-1)
	}

	recomputed, err := HashChain(e.PreviousHash, seq, e.CoreFields())
	switch {
	case err != nil:
		w.report.add(seq, "content cannot be hashed: %v", err)
	case recomputed != e.CurrentHash:
		w.report.add(seq, "current_hash mismatch: entry content was altered")
	}
	if !e.IsImmutable {
		w.report.add(seq, "immutability flag is cleared")
	}

	w.expected = seq + 1
	w.prevHash = e.CurrentHash
	w.lastSeq = seq
}
