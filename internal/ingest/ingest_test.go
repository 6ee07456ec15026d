package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/camphq/bunkreq/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var sampleHeader = []string{"Camper ID", "Camper Name", "Grade", "Session", "Bunk Requests", "Staff Notes", "Noted By"}

func sampleRows() [][]string {
	return [][]string{
		{"c1", "Emma Katz", "5", "summer-a", "bunk with Maya", "spoke with mom (6/12)", "J. Ruiz"},
		{"c2", "Sam Alter", "5", "", "", "", ""},
		{"c3", "", "4", "", "bunk with Lena", "", ""},
	}
}

func TestFromRowsMapping(t *testing.T) {
	reqs := FromRows(sampleHeader, sampleRows(), Options{SessionID: "fallback", Year: 2026})

	// Two request columns per surviving row; the row without a name is skipped.
	require.Len(t, reqs, 4)

	first := reqs[0]
	assert.Equal(t, "bunk with Maya", first.RawText)
	assert.Equal(t, "Bunk Requests", first.FieldName)
	assert.Equal(t, "bunk_request", first.FieldType)
	assert.Equal(t, "Emma Katz", first.RequesterName)
	assert.Equal(t, "c1", first.RequesterID)
	assert.Equal(t, "5", first.Grade)
	assert.Equal(t, "summer-a", first.SessionID)
	assert.Equal(t, 2026, first.Year)
	assert.Nil(t, first.Staff)

	staffNote := reqs[1]
	assert.Equal(t, "staff_notes", staffNote.FieldType)
	assert.Equal(t, "spoke with mom (6/12)", staffNote.RawText)
	require.NotNil(t, staffNote.Staff)
	assert.Equal(t, "J. Ruiz", staffNote.Staff.StaffName)

	// Blank request cells still produce an input item.
	assert.Empty(t, reqs[2].RawText)
	assert.Equal(t, "Sam Alter", reqs[2].RequesterName)
	// Missing session cell falls back to the configured session.
	assert.Equal(t, "fallback", reqs[2].SessionID)
}

func TestFromRowsRowData(t *testing.T) {
	reqs := FromRows(sampleHeader, sampleRows(), Options{})
	require.NotEmpty(t, reqs)

	rd := reqs[0].RowData
	assert.Equal(t, "Emma Katz", rd["Camper Name"])
	assert.Equal(t, "5", rd["Grade"])
	// Empty cells are omitted from row data.
	_, ok := reqs[2].RowData["Bunk Requests"]
	assert.False(t, ok)
}

func TestFromRowsLimit(t *testing.T) {
	reqs := FromRows(sampleHeader, sampleRows(), Options{Limit: 3})
	assert.Len(t, reqs, 3)
}

func TestFromRowsNoRequestColumns(t *testing.T) {
	reqs := FromRows([]string{"name", "grade"}, [][]string{{"Emma", "5"}}, Options{})
	assert.Nil(t, reqs)
}

func TestFromRowsHeaderNormalization(t *testing.T) {
	header := []string{"camper-id", "NAME", "Cabin-Mate Requests"}
	reqs := FromRows(header, [][]string{{"c1", "Emma", "with Maya"}}, Options{})
	require.Len(t, reqs, 1)
	assert.Equal(t, "c1", reqs[0].RequesterID)
	assert.Equal(t, "bunk_request", reqs[0].FieldType)
}

func TestFromRowsShortRows(t *testing.T) {
	reqs := FromRows(sampleHeader, [][]string{{"c1", "Emma Katz"}}, Options{})
	require.Len(t, reqs, 2)
	assert.Empty(t, reqs[0].RawText)
	assert.Empty(t, reqs[0].Grade)
}

func TestReadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.csv")
	content := "camper_id,camper_name,grade,bunk_requests\n" +
		"c1,Emma Katz,5,\"bunk with Maya, please\"\n" +
		"c2,Sam Alter,5,not with Dana\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	reqs, err := ReadCSV(path, Options{Year: 2026})
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, "bunk with Maya, please", reqs[0].RawText)
	assert.Equal(t, "not with Dana", reqs[1].RawText)
}

func TestReadCSVMissing(t *testing.T) {
	_, err := ReadCSV(filepath.Join(t.TempDir(), "missing.csv"), Options{})
	assert.Error(t, err)
}

func TestReadDispatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.csv")
	require.NoError(t, os.WriteFile(path, []byte("camper_name,bunk_requests\nEmma,with Maya\n"), 0o644))

	reqs, err := Read(path, Options{})
	require.NoError(t, err)
	assert.Len(t, reqs, 1)

	_, err = Read("export.pdf", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported file type")
}

func TestOriginatorMapping(t *testing.T) {
	header := []string{"name", "staff_notes", "internal_notes", "parent_notes"}
	reqs := FromRows(header, [][]string{{"Emma", "note a", "note b", "note c"}}, Options{})
	require.Len(t, reqs, 3)

	byField := map[string]model.ParseRequest{}
	for _, r := range reqs {
		byField[r.FieldType] = r
	}
	assert.Equal(t, model.OriginatorStaff, model.OriginatorForField(byField["staff_notes"].FieldType))
	assert.Equal(t, model.OriginatorNotes, model.OriginatorForField(byField["internal_notes"].FieldType))
	assert.Equal(t, model.OriginatorFamily, model.OriginatorForField(byField["parent_notes"].FieldType))
}
