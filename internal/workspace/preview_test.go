package workspace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreviewCSVFile(t *testing.T) {
	svc := New(t.TempDir())
	_, err := svc.Write("sess-1", "data.csv", []byte("a,b\n1,2\n3,4"), nil)
	require.NoError(t, err)

	p, err := svc.Preview("sess-1", "data.csv")
	require.NoError(t, err)
	assert.Equal(t, PreviewCSV, p.Kind)
	assert.Equal(t, [][]string{{"a", "b"}, {"1", "2"}, {"3", "4"}}, p.Rows)
}

func TestPreviewTextFile(t *testing.T) {
	svc := New(t.TempDir())
	_, err := svc.Write("sess-1", "notes.md", []byte("# hello world"), nil)
	require.NoError(t, err)

	p, err := svc.Preview("sess-1", "notes.md")
	require.NoError(t, err)
	assert.Equal(t, PreviewText, p.Kind)
	assert.Equal(t, "# hello world", p.Text)
}

func TestPreviewBinaryFile(t *testing.T) {
	svc := New(t.TempDir())
	_, err := svc.Write("sess-1", "blob.bin", []byte{0x00, 0x01, 0x02, 0xFF, 0x00}, nil)
	require.NoError(t, err)

	p, err := svc.Preview("sess-1", "blob.bin")
	require.NoError(t, err)
	assert.Equal(t, PreviewBinary, p.Kind)
}

func TestPreviewImageFileIsMediaWithURLHandle(t *testing.T) {
	svc := New(t.TempDir())
	// minimal PNG signature is enough for http.DetectContentType.
	png := []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}
	_, err := svc.Write("sess-1", "pic.png", png, nil)
	require.NoError(t, err)

	p, err := svc.Preview("sess-1", "pic.png")
	require.NoError(t, err)
	assert.Equal(t, PreviewMedia, p.Kind)
	assert.Contains(t, p.URL, "pic.png")
	assert.Contains(t, p.URL, "sess-1")
}
