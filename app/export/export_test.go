package export

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/jobtrack/app/store"
)

func TestMakeMarshalParse(t *testing.T) {
	now := time.Date(2024, 6, 15, 10, 30, 0, 0, time.FixedZone("CET", 3600))
	jobs := []store.JobRecord{
		{
			ID:        "j1",
			Title:     "backend engineer",
			Company:   "acme",
			Location:  "remote",
			Salary:    "120k",
			Status:    store.StatusApplied,
			DateSaved: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			ID:         "j2",
			Title:      "sre",
			Company:    "globex",
			Location:   "berlin",
			Status:     store.StatusBookmarked,
			Excitement: 4,
		},
	}
	notes := []store.NoteRecord{
		{ID: "n1", JobID: "j1", Text: "recruiter call on monday"},
		{ID: "n2", Text: "update resume"},
	}

	doc := Make(jobs, notes, now)
	assert.Equal(t, FormatVersion, doc.Version)
	assert.Equal(t, time.UTC, doc.ExportedAt.Location(), "exported_at normalized to UTC")

	data, err := Marshal(doc)
	require.NoError(t, err)
	assert.Contains(t, string(data), "version: 1")
	assert.Contains(t, string(data), "status: applied", "statuses serialized by name")

	parsed, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, doc.Jobs, parsed.Jobs)
	assert.Equal(t, doc.Notes, parsed.Notes)
	assert.True(t, doc.ExportedAt.Equal(parsed.ExportedAt))
}

func TestParseFailures(t *testing.T) {
	tbl := []struct {
		name string
		data string
		err  string
	}{
		{"not yaml", "{{{", "failed to parse snapshot YAML"},
		{"missing version", "jobs: []\n", "unsupported snapshot version 0"},
		{"future version", "version: 99\njobs: []\n", "unsupported snapshot version 99"},
		{"bad status", "version: 1\njobs:\n  - title: x\n    company: y\n    location: z\n    status: ghosted\n", "failed to parse snapshot YAML"},
		{"invalid job", "version: 1\njobs:\n  - title: x\n    company: y\n", "invalid job 0"},
		{"invalid note", "version: 1\nnotes:\n  - text: \"\"\n", "invalid note 0"},
	}

	for _, tt := range tbl {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.err)
		})
	}
}

func TestSchema(t *testing.T) {
	schema, err := Schema()
	require.NoError(t, err)
	require.NotNil(t, schema)

	def, ok := schema.Definitions["Document"]
	require.True(t, ok, "document definition present")
	for _, prop := range []string{"version", "exported_at", "jobs"} {
		_, found := def.Properties.Get(prop)
		assert.True(t, found, "property %s", prop)
	}
}
