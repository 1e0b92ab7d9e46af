package filestore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestSaveAndList(t *testing.T) {
	s := newTestStore(t)

	info, err := s.Save(strings.NewReader("hello"), "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", info.FileName)
	assert.Equal(t, int64(5), info.Size)

	files, err := s.List()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "notes.txt", files[0].FileName)

	// No partial left behind.
	_, err = os.Stat(filepath.Join(s.Dir(), "notes.txt"+partialSuffix))
	assert.True(t, os.IsNotExist(err))
}

func TestSaveResolvesNameCollisions(t *testing.T) {
	s := newTestStore(t)

	for _, want := range []string{"photo.jpg", "photo(1).jpg", "photo(2).jpg"} {
		info, err := s.Save(strings.NewReader("x"), "photo.jpg")
		require.NoError(t, err)
		assert.Equal(t, want, info.FileName)
	}
}

func TestListSkipsPartials(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Save(strings.NewReader("done"), "done.txt")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "half.txt"+partialSuffix), []byte("half"), 0o644))

	files, err := s.List()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "done.txt", files[0].FileName)
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Save(strings.NewReader("x"), "gone.txt")
	require.NoError(t, err)

	removed, err := s.Delete("gone.txt")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.Delete("gone.txt")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestSafePathRejectsEscapes(t *testing.T) {
	s := newTestStore(t)
	for _, name := range []string{"", "../../etc/passwd", ".hidden", "a/b.txt"} {
		_, err := s.Stat(name)
		assert.Error(t, err, name)
	}
}

func TestOpenStreamsStoredFile(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Save(strings.NewReader("payload"), "data.bin")
	require.NoError(t, err)

	f, info, err := s.Open("data.bin")
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, int64(7), info.Size)

	buf := make([]byte, 16)
	n, _ := f.Read(buf)
	assert.Equal(t, "payload", string(buf[:n]))
}

func TestSanitizeFileName(t *testing.T) {
	assert.Equal(t, "passwd", SanitizeFileName("../../etc/passwd"))
	assert.Equal(t, "a_b_.txt", SanitizeFileName(`a<b>".txt`))
	assert.Equal(t, "plain.txt", SanitizeFileName("plain.txt"))
	assert.True(t, strings.HasPrefix(SanitizeFileName("   "), "file-"))
	assert.True(t, strings.HasPrefix(SanitizeFileName(".."), "file-"))
}

func TestValidate(t *testing.T) {
	v := DefaultValidationConfig()

	assert.NoError(t, v.Validate("report.pdf", 1024, "application/pdf"))
	assert.ErrorIs(t, v.Validate("big.pdf", v.MaxFileSize+1, "application/pdf"), ErrFileTooLarge)
	assert.ErrorIs(t, v.Validate("virus.exe", 10, ""), ErrBlockedExtension)
	assert.ErrorIs(t, v.Validate("setup.ps1", 10, "text/plain"), ErrBlockedExtension)
	assert.ErrorIs(t, v.Validate("doc.bin", 10, "application/x-unknown"), ErrInvalidFileType)
	assert.ErrorIs(t, v.Validate("fake.png", 10, "application/pdf"), ErrInvalidFileType)
	assert.ErrorIs(t, v.Validate(strings.Repeat("a", 300)+".txt", 10, "text/plain"), ErrFileNameTooLong)

	// Zero limits disable their checks.
	open := ValidationConfig{}
	assert.NoError(t, open.Validate("anything.xyz", 1<<40, "application/whatever"))
}
