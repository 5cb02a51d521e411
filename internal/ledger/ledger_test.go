package ledger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `step,type,amount,nameOrig,oldbalanceOrg,newbalanceOrig,nameDest,oldbalanceDest,newbalanceDest,isFraud,isFlaggedFraud
1,PAYMENT,9839.64,C1231006815,170136.0,160296.36,M1979787155,0.0,0.0,0,0
1,TRANSFER,181.0,C1305486145,181.0,0.0,C553264065,0.0,0.0,1,0
2,CASH_OUT,181.0,C840083671,181.0,0.0,C38997010,21182.0,0.0,1,0
2,DEBIT,5337.77,C712410124,41720.0,36382.23,C195600860,41898.0,40348.79,0,0
4,CASH_IN,143236.26,C1862994526,0.0,0.0,C1688019098,608932.17,97263.78,0,0
`

func TestLoad(t *testing.T) {
	store, err := Load(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	assert.Equal(t, 5, store.Len())

	first := store.All()[0]
	assert.Equal(t, 1, first.Step)
	assert.Equal(t, domain.TxPayment, first.Type)
	assert.Equal(t, 9839.64, first.Amount)
	assert.Equal(t, "C1231006815", first.NameOrig)
	assert.Equal(t, 170136.0, first.OldBalanceOrig)
	assert.Equal(t, 160296.36, first.NewBalanceOrig)
	assert.False(t, first.IsFraud)

	assert.True(t, store.All()[1].IsFraud)
}

func TestStepAndRange(t *testing.T) {
	store, err := Load(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	t.Run("Step", func(t *testing.T) {
		step2 := store.Step(2)
		require.Len(t, step2, 2)
		for _, tx := range step2 {
			assert.Equal(t, 2, tx.Step)
		}
	})

	t.Run("MissingStepIsEmpty", func(t *testing.T) {
		assert.Empty(t, store.Step(3))
		assert.Empty(t, store.Step(99))
	})

	t.Run("Range", func(t *testing.T) {
		assert.Len(t, store.Range(domain.StepRange{From: 1, To: 2}), 4)
		assert.Len(t, store.Range(domain.StepRange{From: 2, To: 4}), 3)
		assert.Empty(t, store.Range(domain.StepRange{From: 4, To: 1}))
	})

	t.Run("Bounds", func(t *testing.T) {
		r, ok := store.Bounds()
		require.True(t, ok)
		assert.Equal(t, domain.StepRange{From: 1, To: 4}, r)
	})
}

func TestFromTransactionsOrdersBySteps(t *testing.T) {
	in := []domain.Transaction{
		{Step: 3, NameOrig: "a"},
		{Step: 1, NameOrig: "b"},
		{Step: 3, NameOrig: "c"},
		{Step: 2, NameOrig: "d"},
	}
	store := FromTransactions(in)

	var names []string
	for _, tx := range store.All() {
		names = append(names, tx.NameOrig)
	}
	assert.Equal(t, []string{"b", "d", "a", "c"}, names)
	assert.Equal(t, 3, in[0].Step, "input must not be reordered")
}

func TestFingerprintTracksContent(t *testing.T) {
	a, err := Load(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	b, err := Load(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	assert.NotEmpty(t, a.Fingerprint())
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	// Same shape, one label flipped.
	rows := append([]domain.Transaction(nil), a.All()...)
	rows[0].IsFraud = !rows[0].IsFraud
	assert.NotEqual(t, a.Fingerprint(), FromTransactions(rows).Fingerprint())

	assert.NotEqual(t, a.Fingerprint(), FromTransactions(nil).Fingerprint())
}

func TestLoadMissingColumn(t *testing.T) {
	data := "step,type,amount\n1,PAYMENT,10\n"
	_, err := Load(strings.NewReader(data))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingColumn))
	assert.Contains(t, err.Error(), "nameOrig")
}

func TestLoadMalformedRow(t *testing.T) {
	cases := map[string]string{
		"BadAmount":   "1,PAYMENT,abc,C1,1,1,M1,0,0,0",
		"BadStep":     "x,PAYMENT,1,C1,1,1,M1,0,0,0",
		"UnknownType": "1,WIRE,1,C1,1,1,M1,0,0,0",
		"BadFraud":    "1,PAYMENT,1,C1,1,1,M1,0,0,maybe",
		"ZeroStep":    "0,PAYMENT,1,C1,1,1,M1,0,0,0",
	}
	header := "step,type,amount,nameOrig,oldbalanceOrg,newbalanceOrig,nameDest,oldbalanceDest,newbalanceDest,isFraud\n"

	for name, row := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(strings.NewReader(header + row + "\n"))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedRow), "got %v", err)
			assert.Contains(t, err.Error(), "line 2")
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o644))

	store, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 5, store.Len())

	_, err = LoadFile(filepath.Join(t.TempDir(), "nope.csv"))
	assert.Error(t, err)
}

type fakeLister struct {
	txs []domain.Transaction
	err error
}

func (f fakeLister) ListLedger(context.Context) ([]domain.Transaction, error) {
	return f.txs, f.err
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	store, err := Open(ctx, domain.LedgerConfig{Source: "sql"}, fakeLister{txs: []domain.Transaction{
		{Step: 2, Type: domain.TxPayment, Amount: 1},
		{Step: 1, Type: domain.TxPayment, Amount: 2},
	}})
	require.NoError(t, err)
	assert.Equal(t, 2, store.Len())
	assert.Equal(t, 1, store.All()[0].Step)

	_, err = Open(ctx, domain.LedgerConfig{Source: "sql"}, nil)
	assert.Error(t, err)

	_, err = Open(ctx, domain.LedgerConfig{Source: "sql"}, fakeLister{err: errors.New("db down")})
	assert.ErrorContains(t, err, "db down")

	_, err = Open(ctx, domain.LedgerConfig{Source: "parquet"}, nil)
	assert.Error(t, err)

	_, err = Open(ctx, domain.LedgerConfig{Source: "csv", Path: filepath.Join(t.TempDir(), "missing.csv")}, nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
