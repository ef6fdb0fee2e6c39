package timetable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unical/internal/model"
)

func filterFixture() []model.Event {
	mk := func(title, program string, year int) model.Event {
		e := lesson(title, 9, 0, 10, 0)
		e.Program = program
		e.Year = model.Year(year)
		return e
	}
	return []model.Event{
		mk("Analisi", "DTM - Year 1", 1),
		mk("Strategy", "DTM - Year 2", 2),
		mk("Algebra", "CS - Year 1 - GEN", 1),
		mk("Orphan", "", 1),
		mk("Physics", "PHY", 3),
	}
}

func titles(events []model.Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Title)
	}
	return out
}

func TestBaseProgramName(t *testing.T) {
	assert.Equal(t, "DTM", BaseProgramName("DTM - Year 2"))
	assert.Equal(t, "CS", BaseProgramName("CS - Year 1 - GEN"))
	assert.Equal(t, "PHY", BaseProgramName("PHY"))
	assert.Equal(t, "Data-Science", BaseProgramName("Data-Science - Year 1"))
	assert.Equal(t, "", BaseProgramName(""))
}

func TestApplyFilterNoFilterReturnsInput(t *testing.T) {
	events := filterFixture()

	out := ApplyFilter(events, model.Filters{}, nil)
	require.Len(t, out, len(events))
	assert.Same(t, &events[0], &out[0])
	assert.Equal(t, titles(events), titles(out))

	out = ApplyFilter(events, nil, NewCourseKeySet(nil))
	assert.Same(t, &events[0], &out[0])
}

func TestApplyFilterAllowListOnly(t *testing.T) {
	events := filterFixture()
	allow := NewCourseKeySet([]string{CourseKey(events[2]), CourseKey(events[0])})

	out := ApplyFilter(events, nil, allow)
	assert.Equal(t, []string{"Analisi", "Algebra"}, titles(out))
}

func TestApplyFilterProgramEntries(t *testing.T) {
	events := filterFixture()

	tests := []struct {
		name    string
		filters model.Filters
		allow   CourseKeySet
		want    []string
	}{
		{
			name:    "program without entry is dropped",
			filters: model.Filters{"DTM": {}},
			want:    []string{"Analisi", "Strategy"},
		},
		{
			name:    "year selection",
			filters: model.Filters{"DTM": {SelectedYears: []model.Year{2}}},
			want:    []string{"Strategy"},
		},
		{
			name:    "course selection",
			filters: model.Filters{"DTM": {SelectedCourses: []string{"Analisi_1_DTM - Year 1"}}},
			want:    []string{"Analisi"},
		},
		{
			name: "year and course are conjunctive",
			filters: model.Filters{"DTM": {
				SelectedYears:   []model.Year{2},
				SelectedCourses: []string{"Analisi_1_DTM - Year 1"},
			}},
			want: []string{},
		},
		{
			name:    "allow-list narrows program entries",
			filters: model.Filters{"DTM": {}, "CS": {}},
			allow:   NewCourseKeySet([]string{"Algebra_1_CS - Year 1 - GEN"}),
			want:    []string{"Algebra"},
		},
		{
			name:    "empty course selection selects nothing",
			filters: model.Filters{"DTM": {SelectedCourses: []string{}}},
			want:    []string{},
		},
		{
			name:    "empty year selection selects nothing",
			filters: model.Filters{"DTM": {SelectedYears: []model.Year{}}},
			want:    []string{},
		},
		{
			name:    "base name with curriculum suffix",
			filters: model.Filters{"CS": {SelectedYears: []model.Year{1}}},
			want:    []string{"Algebra"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := ApplyFilter(events, tt.filters, tt.allow)
			assert.Equal(t, tt.want, titles(out))
		})
	}
}

func TestApplyFilterIdempotent(t *testing.T) {
	events := filterFixture()
	filters := model.Filters{"DTM": {SelectedYears: []model.Year{1, 2}}, "CS": {}}
	once := ApplyFilter(events, filters, nil)
	twice := ApplyFilter(once, filters, nil)
	assert.Equal(t, once, twice)
}

func TestParseFilters(t *testing.T) {
	f := ParseFilters([]byte(`{"DTM":{"selectedYears":["1"],"selectedCourses":[]}}`))
	require.NotNil(t, f)
	assert.Equal(t, []model.Year{1}, f["DTM"].SelectedYears)

	assert.Nil(t, ParseFilters(nil))
	assert.Nil(t, ParseFilters([]byte(`{}`)))
	assert.Nil(t, ParseFilters([]byte(`null`)))
	assert.Nil(t, ParseFilters([]byte(`["DTM"]`)))
	assert.Nil(t, ParseFilters([]byte(`{"DTM":{"selectedYears":"all"}}`)))
}

func TestSelectForExport(t *testing.T) {
	events := filterFixture()

	assert.Len(t, SelectForExport(events, nil, nil), len(events))
	assert.Equal(t, []string{"Strategy"}, titles(SelectForExport(events, model.Filters{"DTM": {SelectedYears: []model.Year{2}}}, nil)))
	assert.Empty(t, SelectForExport(events, model.Filters{"NOPE": {}}, nil))
	assert.Empty(t, SelectForExport(events, nil, NewCourseKeySet([]string{"missing"})))
}

func TestActiveCourseKeys(t *testing.T) {
	a := lesson("Analisi", 9, 0, 10, 0)
	b := lesson("Analisi", 11, 0, 12, 0)
	c := lesson("Algebra", 9, 0, 10, 0)
	assert.Equal(t, []string{"Analisi_1_DTM", "Algebra_1_DTM"}, ActiveCourseKeys([]model.Event{a, b, c}))
}
