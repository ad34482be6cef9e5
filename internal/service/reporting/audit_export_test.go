package reporting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/flockledger/internal/domain/models"
	"github.com/mamadbah2/flockledger/internal/repository/memory"
)

type fakeSheet struct {
	mu      sync.Mutex
	rows    [][]interface{}
	appends int
	failing bool
}

func (f *fakeSheet) AppendRows(_ context.Context, sheetRange string, rows [][]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("quota exceeded")
	}
	if sheetRange != auditDataRange {
		return fmt.Errorf("unexpected range %s", sheetRange)
	}
	f.rows = append(f.rows, rows...)
	f.appends++
	return nil
}

func (f *fakeSheet) ReadRange(_ context.Context, _ string) ([][]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]interface{}(nil), f.rows...), nil
}

func (f *fakeSheet) ids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.rows))
	for _, r := range f.rows {
		out = append(out, fmt.Sprint(r[0]))
	}
	return out
}

var base = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func seed(t *testing.T, store *memory.Store, ids ...string) {
	t.Helper()
	seedFrom(t, store, 0, ids...)
}

func seedFrom(t *testing.T, store *memory.Store, start int, ids ...string) {
	t.Helper()
	for j, id := range ids {
		i := start + j
		require.NoError(t, store.InsertAudit(context.Background(), models.AuditEntry{
			ID:          id,
			FarmID:      "farm-1",
			BatchID:     "batch-1",
			Dead:        1,
			BeforeState: models.CountSnapshot{CurrentCount: 100 - i},
			AfterState:  models.CountSnapshot{CurrentCount: 99 - i},
			Revision:    int64(i + 1),
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}))
	}
}

func TestExportWritesEachEntryOnce(t *testing.T) {
	store := memory.New()
	sheet := &fakeSheet{}
	exp := NewAuditExporter(sheet, store, nil)
	ctx := context.Background()

	seed(t, store, "a1", "a2", "a3")
	n, err := exp.Export(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = exp.Export(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []string{"a1", "a2", "a3"}, sheet.ids())

	row := sheet.rows[0]
	assert.Equal(t, base.Format(timeLayout), row[1])
	assert.Equal(t, 100, row[10])
	assert.Equal(t, 99, row[11])
	require.Len(t, row, 14)
	persisted, err := time.Parse(timeLayout, fmt.Sprint(row[13]))
	require.NoError(t, err)
	assert.False(t, persisted.IsZero())
}

func TestExportPicksUpLateInsertWithOldTimestamp(t *testing.T) {
	store := memory.New()
	sheet := &fakeSheet{}
	exp := NewAuditExporter(sheet, store, nil)
	ctx := context.Background()

	seed(t, store, "a1", "a2")
	n, err := exp.Export(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	// The retry queue writes an entry whose mutation happened before
	// everything already exported.
	require.NoError(t, store.InsertAudit(ctx, models.AuditEntry{
		ID:        "late",
		FarmID:    "farm-1",
		BatchID:   "batch-2",
		Dead:      4,
		Revision:  1,
		CreatedAt: base.Add(-time.Minute),
	}))

	n, err = exp.Export(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"a1", "a2", "late"}, sheet.ids())

	// A restarted exporter resumes from the sheet and does not repeat it.
	n, err = NewAuditExporter(sheet, store, nil).Export(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestExportPagesThroughBacklog(t *testing.T) {
	store := memory.New()
	sheet := &fakeSheet{}
	exp := NewAuditExporter(sheet, store, nil)
	exp.page = 2

	seed(t, store, "a1", "a2", "a3", "a4", "a5")
	n, err := exp.Export(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Greater(t, sheet.appends, 1)
	assert.Equal(t, []string{"a1", "a2", "a3", "a4", "a5"}, sheet.ids())
}

func TestExportResumesFromSheetContents(t *testing.T) {
	store := memory.New()
	sheet := &fakeSheet{rows: [][]interface{}{
		{"id", "created_at", "farm_id"},
	}}
	seed(t, store, "a1", "a2")

	_, err := NewAuditExporter(sheet, store, nil).Export(context.Background())
	require.NoError(t, err)

	// A restarted process only knows what the sheet holds.
	seedFrom(t, store, 2, "a3")
	n, err := NewAuditExporter(sheet, store, nil).Export(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"id", "a1", "a2", "a3"}, sheet.ids())
}

func TestExportKeepsWatermarkOnFailure(t *testing.T) {
	store := memory.New()
	sheet := &fakeSheet{failing: true}
	exp := NewAuditExporter(sheet, store, nil)
	seed(t, store, "a1", "a2")

	_, err := exp.Export(context.Background())
	require.Error(t, err)

	sheet.failing = false
	n, err := exp.Export(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
