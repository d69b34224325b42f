package persistence

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDocumentMissingFileIsEmpty(t *testing.T) {
	t.Parallel()
	doc, err := LoadDocument(filepath.Join(t.TempDir(), "nope.csv"))
	require.NoError(t, err)
	assert.Empty(t, doc.Header)
	assert.Empty(t, doc.Rows())
}

func TestDocumentPreservesCommentsAndBlankLines(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.csv")
	original := "id,pair,enabled\n" +
		"# a helpful comment\n" +
		"\n" +
		"rule-1,XXBTZUSD,true\n" +
		"# another comment\n" +
		"rule-2,XETHZUSD,false\n"
	require.NoError(t, os.WriteFile(path, []byte(original), 0o644))

	doc, err := LoadDocument(path)
	require.NoError(t, err)

	doc.UpdateRow(0, "rule-1", []string{"rule-1", "XXBTZUSD", "false"})
	require.NoError(t, doc.Save(path))

	rewritten, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(rewritten)

	assert.Contains(t, content, "# a helpful comment")
	assert.Contains(t, content, "# another comment")
	assert.Contains(t, content, "rule-1,XXBTZUSD,false", "mutated row should be updated")
	assert.Contains(t, content, "rule-2,XETHZUSD,false", "untouched row should survive")
	assert.Equal(t, strings.Count(original, "\n\n"), strings.Count(content, "\n\n"), "blank line count must not change")
}

func TestDocumentRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "roundtrip.csv")
	original := "id,value\n" +
		"# leading comment\n" +
		"a,1\n" +
		"\n" +
		"b,2\n"
	require.NoError(t, os.WriteFile(path, []byte(original), 0o644))

	doc, err := LoadDocument(path)
	require.NoError(t, err)
	require.NoError(t, doc.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, original, string(data), "read(write(x)) must equal x")
}

func TestDocumentUpsertAppendsWhenMissing(t *testing.T) {
	t.Parallel()
	doc := &Document{Header: []string{"id", "value"}}
	doc.UpsertRow(0, "a", []string{"a", "1"})
	doc.UpsertRow(0, "a", []string{"a", "2"})
	doc.UpsertRow(0, "b", []string{"b", "3"})

	rows := doc.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, "2", rows[0][1], "existing row should be updated in place")
	assert.Equal(t, "b", rows[1][0], "new id should be appended")
}

func TestAtomicWriteLeavesNoTempFileOnSuccess(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, atomicWrite(path, []byte("hello\n")))

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file should be gone after rename")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}

func TestAppendLineIsTrulyAppendOnly(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "log.csv")

	require.NoError(t, AppendLine(path, "line1"))
	require.NoError(t, AppendLine(path, "line2"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "line1\nline2\n", string(data))
}

func TestWriteHeaderIfMissingIsIdempotent(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "log.csv")
	header := []string{"timestamp", "level"}

	require.NoError(t, WriteHeaderIfMissing(path, header))
	require.NoError(t, AppendLine(path, "2026-01-01T00:00:00Z,info"))
	require.NoError(t, WriteHeaderIfMissing(path, header))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "timestamp,level"), "header must not be duplicated")
}
