// Package ingest turns registration exports (CSV or XLSX) into parse
// inputs, one per free-text request field per row.
package ingest

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/camphq/bunkreq/internal/model"
)

// Options configures mapping from a registration export to parse inputs.
type Options struct {
	SessionID string
	Year      int
	Limit     int // max input items; 0 = unlimited
}

// requestFieldTypes maps known free-text column headers to field types.
// Everything else in a row rides along as context in RowData.
var requestFieldTypes = map[string]string{
	"bunk_requests":        "bunk_request",
	"bunk_request":         "bunk_request",
	"bunking_requests":     "bunk_request",
	"cabin_mate_requests":  "bunk_request",
	"cabinmate_requests":   "bunk_request",
	"special_requests":     "special_request",
	"parent_notes":         "parent_notes",
	"staff_notes":          "staff_notes",
	"staff_requests":       "staff_request",
	"internal_notes":       "internal_notes",
}

// requester identity columns, matched in order
var (
	nameHeaders      = []string{"camper_name", "child_name", "name", "camper"}
	idHeaders        = []string{"camper_id", "person_id", "id"}
	gradeHeaders     = []string{"grade", "grade_level"}
	sessionHeaders   = []string{"session_id", "session"}
	staffNameHeaders = []string{"noted_by", "staff_name"}
)

// Read loads a registration export, dispatching on file extension.
func Read(path string, opts Options) ([]model.ParseRequest, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ReadCSV(path, opts)
	case ".xlsx":
		return ReadXLSX(path, opts)
	default:
		return nil, eris.Errorf("ingest: unsupported file type %q", filepath.Ext(path))
	}
}

// FromRows converts a parsed table into ParseRequests. The header row
// drives column mapping; rows missing a requester name are skipped.
func FromRows(header []string, rows [][]string, opts Options) []model.ParseRequest {
	cols := mapColumns(header)
	if len(cols.requestFields) == 0 {
		zap.L().Warn("ingest: no request columns recognized in header",
			zap.Strings("header", header))
		return nil
	}

	var reqs []model.ParseRequest
	for rowNum, row := range rows {
		name := cellAt(row, cols.name)
		if name == "" {
			zap.L().Debug("ingest: skipping row without requester name", zap.Int("row", rowNum))
			continue
		}

		rowData := make(map[string]string, len(header))
		for i, h := range header {
			if v := cellAt(row, i); v != "" {
				rowData[h] = v
			}
		}

		for _, rf := range cols.requestFields {
			text := cellAt(row, rf.index)
			req := model.ParseRequest{
				RawText:       text,
				FieldName:     rf.header,
				FieldType:     rf.fieldType,
				RequesterName: name,
				RequesterID:   cellAt(row, cols.id),
				Grade:         cellAt(row, cols.grade),
				SessionID:     firstNonEmpty(cellAt(row, cols.session), opts.SessionID),
				Year:          opts.Year,
				RowData:       rowData,
			}
			if model.OriginatorForField(rf.fieldType) == model.OriginatorStaff {
				if staff := cellAt(row, cols.staffName); staff != "" {
					req.Staff = &model.StaffMetadata{StaffName: staff}
				}
			}
			reqs = append(reqs, req)

			if opts.Limit > 0 && len(reqs) >= opts.Limit {
				return reqs
			}
		}
	}
	return reqs
}

type requestField struct {
	index     int
	header    string
	fieldType string
}

type columnMap struct {
	name          int
	id            int
	grade         int
	session       int
	staffName     int
	requestFields []requestField
}

func mapColumns(header []string) columnMap {
	cols := columnMap{name: -1, id: -1, grade: -1, session: -1, staffName: -1}
	for i, h := range header {
		key := normalizeHeader(h)
		if ft, ok := requestFieldTypes[key]; ok {
			cols.requestFields = append(cols.requestFields, requestField{index: i, header: h, fieldType: ft})
			continue
		}
		switch {
		case cols.name < 0 && matchHeader(key, nameHeaders):
			cols.name = i
		case cols.id < 0 && matchHeader(key, idHeaders):
			cols.id = i
		case cols.grade < 0 && matchHeader(key, gradeHeaders):
			cols.grade = i
		case cols.session < 0 && matchHeader(key, sessionHeaders):
			cols.session = i
		case cols.staffName < 0 && matchHeader(key, staffNameHeaders):
			cols.staffName = i
		}
	}
	return cols
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.ReplaceAll(h, " ", "_")
	h = strings.ReplaceAll(h, "-", "_")
	return h
}

func matchHeader(key string, candidates []string) bool {
	for _, c := range candidates {
		if key == c {
			return true
		}
	}
	return false
}

func cellAt(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
