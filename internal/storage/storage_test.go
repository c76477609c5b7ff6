package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tweench/internal/models"
)

func TestTablesFromConfig(t *testing.T) {
	tables := TablesFromConfig(models.PersistenceConfig{
		SubredditTable: "subs",
		PostTable:      "posts",
		ImageTable:     "imgs",
	})
	assert.Equal(t, Tables{Schema: "public", Subreddits: "subs", Posts: "posts", Images: "imgs"}, tables)

	tables = TablesFromConfig(models.PersistenceConfig{Schema: "archive"})
	assert.Equal(t, "archive", tables.Schema)
}

func TestQualify(t *testing.T) {
	tests := []struct {
		name   string
		schema string
		table  string
		want   string
	}{
		{"default schema", "public", "images", `"public"."images"`},
		{"custom schema", "archive", "posts", `"archive"."posts"`},
		{"quotes escaped", "public", `we"ird`, `"public"."we""ird"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, qualify(tt.schema, tt.table))
		})
	}
}

func TestStorable(t *testing.T) {
	recs := []models.MediaRecord{
		{URL: "http://a", Path: "k/a.png"},
		{URL: "http://b"},
		{URL: "http://c", Path: "k/c.png"},
	}
	out := storable(recs)
	assert.Len(t, out, 2)
	assert.Equal(t, "k/a.png", out[0].Path)
	assert.Equal(t, "k/c.png", out[1].Path)
}

func TestRecordJSONRoundTrip(t *testing.T) {
	in := models.MediaRecord{
		URL:        "http://i.imgur.com/asdf.jpg",
		Path:       "65fdd351248ab761f1f66cf394da65ca/asdf.jpg",
		Dimensions: &models.Dimensions{Height: 400, Width: 600},
		Colors:     []models.Color{{Value: "#aabbcc", Prominence: 70}, {Value: "#000000", Prominence: 30}},
	}
	dims, colors, err := encodeRecord(in)
	assert.NoError(t, err)

	out := models.MediaRecord{URL: in.URL, Path: in.Path}
	assert.NoError(t, decodeRecord(&out, dims, colors))
	assert.Equal(t, in, out)
}

func TestEncodeRecord_DegradedFieldsAreNull(t *testing.T) {
	dims, colors, err := encodeRecord(models.MediaRecord{URL: "http://x", Path: "k/x"})
	assert.NoError(t, err)
	assert.Nil(t, dims)
	assert.Nil(t, colors)
}

func TestMigrations(t *testing.T) {
	ms := migrations(Tables{Schema: "public", Subreddits: "subreddits", Posts: "posts", Images: "images"})
	assert.Len(t, ms, 2)
	assert.EqualValues(t, 1, ms[0].Version)
	assert.EqualValues(t, 2, ms[1].Version)
}
