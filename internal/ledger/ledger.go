// Package ledger provides the immutable in-memory transaction store.
package ledger

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/opensource-finance/sentinel/internal/domain"
)

var (
	ErrMissingColumn = errors.New("missing required column")
	ErrMalformedRow  = errors.New("malformed row")
)

// RequiredColumns lists the PaySim columns the store needs.
var RequiredColumns = []string{
	"step", "type", "amount",
	"nameOrig", "oldbalanceOrg", "newbalanceOrig",
	"nameDest", "oldbalanceDest", "newbalanceDest",
	"isFraud",
}

// Store is an immutable ledger ordered by step.
// Slices returned by Step, Range and All share the store's backing
// array and must be treated as read-only.
type Store struct {
	txs         []domain.Transaction
	fingerprint string
}

// FromTransactions builds a store from already-parsed rows.
// Rows are stably ordered by step; the input slice is not modified.
func FromTransactions(txs []domain.Transaction) *Store {
	sorted := slices.Clone(txs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Step < sorted[j].Step
	})
	return &Store{txs: sorted, fingerprint: fingerprint(sorted)}
}

// fingerprint hashes every field of every row in ledger order.
func fingerprint(txs []domain.Transaction) string {
	h := xxhash.New()
	buf := make([]byte, 0, 256)
	for _, tx := range txs {
		buf = buf[:0]
		buf = strconv.AppendInt(buf, int64(tx.Step), 10)
		buf = append(buf, '|')
		buf = append(buf, string(tx.Type)...)
		for _, v := range []float64{tx.Amount, tx.OldBalanceOrig, tx.NewBalanceOrig, tx.OldBalanceDest, tx.NewBalanceDest} {
			buf = append(buf, '|')
			buf = strconv.AppendFloat(buf, v, 'g', -1, 64)
		}
		buf = append(buf, '|')
		buf = append(buf, tx.NameOrig...)
		buf = append(buf, '|')
		buf = append(buf, tx.NameDest...)
		buf = append(buf, '|')
		buf = strconv.AppendBool(buf, tx.IsFraud)
		buf = strconv.AppendBool(buf, tx.IsFlaggedFraud)
		buf = append(buf, '\n')
		h.Write(buf)
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

// Lister is the SQL ledger table source.
type Lister interface {
	ListLedger(ctx context.Context) ([]domain.Transaction, error)
}

// Open loads the ledger named by cfg. lister is only used for the "sql"
// source and may be nil otherwise.
func Open(ctx context.Context, cfg domain.LedgerConfig, lister Lister) (*Store, error) {
	switch cfg.Source {
	case "csv", "":
		return LoadFile(cfg.Path)
	case "sql":
		if lister == nil {
			return nil, errors.New("sql ledger source requires a repository")
		}
		txs, err := lister.ListLedger(ctx)
		if err != nil {
			return nil, fmt.Errorf("list ledger table: %w", err)
		}
		return FromTransactions(txs), nil
	default:
		return nil, fmt.Errorf("unsupported ledger source: %s", cfg.Source)
	}
}

// LoadFile reads a PaySim CSV file from disk.
func LoadFile(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	store, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("load ledger %s: %w", path, err)
	}
	return store, nil
}

// Load parses a PaySim CSV stream. Header matching is case-insensitive
// and unknown columns are ignored. Any missing column or unparseable
// field aborts the load.
func Load(r io.Reader) (*Store, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	colIndex := make(map[string]int, len(header))
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}

	idx := make(map[string]int, len(RequiredColumns))
	for _, col := range RequiredColumns {
		i, ok := colIndex[strings.ToLower(col)]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
		idx[col] = i
	}
	flaggedIdx, hasFlagged := colIndex["isflaggedfraud"]

	var txs []domain.Transaction
	lineNum := 1

	for {
		lineNum++
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}

		p := rowParser{record: record, idx: idx}
		tx := domain.Transaction{
			Step:           p.parseInt("step"),
			Amount:         p.parseFloat("amount"),
			NameOrig:       p.field("nameOrig"),
			OldBalanceOrig: p.parseFloat("oldbalanceOrg"),
			NewBalanceOrig: p.parseFloat("newbalanceOrig"),
			NameDest:       p.field("nameDest"),
			OldBalanceDest: p.parseFloat("oldbalanceDest"),
			NewBalanceDest: p.parseFloat("newbalanceDest"),
			IsFraud:        p.parseBool("isFraud"),
		}
		if t, ok := domain.ParseTxType(p.field("type")); ok {
			tx.Type = t
		} else if p.err == nil {
			p.err = fmt.Errorf("type: unknown transaction type %q", p.field("type"))
		}
		if hasFlagged && flaggedIdx < len(record) {
			tx.IsFlaggedFraud, _ = strconv.ParseBool(strings.TrimSpace(record[flaggedIdx]))
		}

		if p.err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedRow, lineNum, p.err)
		}
		if tx.Step < 1 {
			return nil, fmt.Errorf("%w: line %d: step must be positive, got %d", ErrMalformedRow, lineNum, tx.Step)
		}
		if tx.Amount < 0 {
			return nil, fmt.Errorf("%w: line %d: negative amount", ErrMalformedRow, lineNum)
		}

		txs = append(txs, tx)
	}

	return FromTransactions(txs), nil
}

// rowParser records the first field error of a row.
type rowParser struct {
	record []string
	idx    map[string]int
	err    error
}

func (p *rowParser) field(col string) string {
	i := p.idx[col]
	if i >= len(p.record) {
		if p.err == nil {
			p.err = fmt.Errorf("%s: column out of range", col)
		}
		return ""
	}
	return strings.TrimSpace(p.record[i])
}

func (p *rowParser) parseFloat(col string) float64 {
	raw := p.field(col)
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s: %w", col, err)
	}
	return v
}

func (p *rowParser) parseInt(col string) int {
	raw := p.field(col)
	v, err := strconv.Atoi(raw)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s: %w", col, err)
	}
	return v
}

func (p *rowParser) parseBool(col string) bool {
	raw := p.field(col)
	v, err := strconv.ParseBool(raw)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s: %w", col, err)
	}
	return v
}

// Fingerprint identifies the ledger content. Two stores holding the same
// rows in the same order share a fingerprint.
func (s *Store) Fingerprint() string {
	return s.fingerprint
}

// Len returns the number of transactions in the ledger.
func (s *Store) Len() int {
	return len(s.txs)
}

// All returns the full ledger in step order.
func (s *Store) All() []domain.Transaction {
	return s.txs
}

// Step returns the transactions of one tick, in ledger order.
// An unknown tick yields an empty slice.
func (s *Store) Step(tick int) []domain.Transaction {
	return s.Range(domain.StepRange{From: tick, To: tick})
}

// Range returns the transactions whose step lies in the inclusive range.
func (s *Store) Range(r domain.StepRange) []domain.Transaction {
	if !r.Valid() {
		return nil
	}
	lo := sort.Search(len(s.txs), func(i int) bool { return s.txs[i].Step >= r.From })
	hi := sort.Search(len(s.txs), func(i int) bool { return s.txs[i].Step > r.To })
	return s.txs[lo:hi:hi]
}

// Bounds returns the smallest and largest step present.
// ok is false for an empty ledger.
func (s *Store) Bounds() (r domain.StepRange, ok bool) {
	if len(s.txs) == 0 {
		return domain.StepRange{}, false
	}
	return domain.StepRange{From: s.txs[0].Step, To: s.txs[len(s.txs)-1].Step}, true
}
