package blob

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPutGet(t *testing.T) {
	s, err := New(t.TempDir())
	assert.NoError(t, err)

	_, ok := s.Get("mitre/CVE-2024-12345.json")
	assert.False(t, ok)

	assert.NoError(t, s.Put("mitre/CVE-2024-12345.json", []byte(`{"cveId":"CVE-2024-12345"}`)))

	data, ok := s.Get("mitre/CVE-2024-12345.json")
	assert.True(t, ok)
	assert.Equal(t, `{"cveId":"CVE-2024-12345"}`, string(data))
}

func TestPathStaysInsideRoot(t *testing.T) {
	s := &Store{Dir: "/data/blobs"}
	assert.Equal(t, filepath.Join("/data/blobs", "etc/passwd"), s.path("../../etc/passwd"))
	assert.Equal(t, filepath.Join("/data/blobs", "a/b.json"), s.path("a/./b.json"))
}
