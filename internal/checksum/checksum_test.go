package checksum

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigest_StreamingMatchesOneShot(t *testing.T) {
	content := "hello world"

	d := New()
	n, err := io.Copy(io.Discard, d.Tee(strings.NewReader(content)))
	require.NoError(t, err)

	assert.Equal(t, int64(len(content)), n)
	assert.Equal(t, int64(len(content)), d.Size())
	assert.Equal(t, Hash([]byte(content)), d.Sum())
}

func TestDigest_Idempotent(t *testing.T) {
	// Same bytes always yield the same digest.
	a := New()
	b := New()
	_, _ = a.Write([]byte("same bytes"))
	_, _ = b.Write([]byte("same bytes"))

	assert.Equal(t, a.Sum(), b.Sum())
}

func TestDigest_ChunkedWrites(t *testing.T) {
	whole := New()
	_, _ = whole.Write([]byte("abcdef"))

	chunked := New()
	_, _ = chunked.Write([]byte("abc"))
	_, _ = chunked.Write([]byte("def"))

	assert.Equal(t, whole.Sum(), chunked.Sum())
	assert.Equal(t, int64(6), chunked.Size())
}

func TestHash_KnownVector(t *testing.T) {
	// sha256("") is a fixed vector.
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Hash(nil))
}

func TestMatches(t *testing.T) {
	sum := Hash([]byte("x"))

	assert.True(t, Matches(sum, sum))
	assert.True(t, Matches(strings.ToUpper(sum), sum))
	assert.False(t, Matches(sum, Hash([]byte("y"))))
}
