package resolve

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/camphq/bunkreq/internal/model"
)

// LoadRoster reads a camper roster CSV. Recognized headers: id, name,
// school, grade, age; name is required, everything else optional.
func LoadRoster(path string) ([]model.Person, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "resolve: open roster")
	}
	defer f.Close()
	return ReadRoster(f)
}

// ReadRoster parses roster CSV content from r.
func ReadRoster(r io.Reader) ([]model.Person, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, eris.Wrap(err, "resolve: read roster header")
	}

	idx := map[string]int{}
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		key = strings.ReplaceAll(key, " ", "_")
		idx[key] = i
	}
	nameCol, ok := firstIndex(idx, "name", "camper_name", "child_name")
	if !ok {
		return nil, eris.New("resolve: roster has no name column")
	}
	idCol, _ := firstIndex(idx, "id", "camper_id", "person_id")
	schoolCol, hasSchool := firstIndex(idx, "school")
	gradeCol, hasGrade := firstIndex(idx, "grade", "grade_level")
	ageCol, hasAge := firstIndex(idx, "age")

	var roster []model.Person
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "resolve: read roster row %d", line)
		}
		line++

		name := field(record, nameCol)
		if name == "" {
			continue
		}
		p := model.Person{
			ID:   field(record, idCol),
			Name: name,
		}
		if p.ID == "" {
			p.ID = "row-" + strconv.Itoa(line)
		}
		if hasSchool {
			p.School = field(record, schoolCol)
		}
		if hasGrade {
			p.Grade = field(record, gradeCol)
		}
		if hasAge {
			if age, err := strconv.Atoi(field(record, ageCol)); err == nil {
				p.Age = age
			}
		}
		roster = append(roster, p)
	}
	return roster, nil
}

func firstIndex(idx map[string]int, keys ...string) (int, bool) {
	for _, k := range keys {
		if i, ok := idx[k]; ok {
			return i, true
		}
	}
	return -1, false
}

func field(record []string, i int) string {
	if i < 0 || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}
