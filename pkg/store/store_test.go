package store

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBackends(t *testing.T) map[string]Backend {
	t.Helper()
	b, err := OpenBadger(BadgerOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return map[string]Backend{
		"memory": NewMemoryBackend(),
		"badger": b,
	}
}

func TestTypedRoundTrip(t *testing.T) {
	for name, backend := range testBackends(t) {
		for _, comp := range []CompressionType{CompressionNone, CompressionLZ4, CompressionZSTD} {
			t.Run(name+"/"+comp.String(), func(t *testing.T) {
				db := New(backend, comp)
				scope, err := db.Child("run" + comp.String())
				require.NoError(t, err)

				require.NoError(t, scope.PutBool("flag", true))
				require.NoError(t, scope.PutChar("c", 'x'))
				require.NoError(t, scope.PutInt("n", -42))
				require.NoError(t, scope.PutFloat("f", 1.5))
				require.NoError(t, scope.PutDouble("theta", 400.0))
				require.NoError(t, scope.PutString("name", "model"))
				require.NoError(t, scope.PutIntArray("ids", []int{3, 1, 2}))
				require.NoError(t, scope.PutBoolArray("mask", []bool{true, false}))
				require.NoError(t, scope.PutStringArray("tags", []string{"a", "b"}))
				require.NoError(t, scope.PutCharArray("raw", []byte("abc")))
				require.NoError(t, scope.PutFloatArray("fs", []float32{0.25, -1}))

				doubles := make([]float64, 500)
				for i := range doubles {
					doubles[i] = float64(i%7) * 0.1
				}
				require.NoError(t, scope.PutDoubleArray("points", doubles))

				b, err := scope.GetBool("flag")
				require.NoError(t, err)
				assert.True(t, b)

				c, err := scope.GetChar("c")
				require.NoError(t, err)
				assert.Equal(t, byte('x'), c)

				n, err := scope.GetInt("n")
				require.NoError(t, err)
				assert.Equal(t, -42, n)

				f, err := scope.GetFloat("f")
				require.NoError(t, err)
				assert.Equal(t, float32(1.5), f)

				d, err := scope.GetDouble("theta")
				require.NoError(t, err)
				assert.Equal(t, 400.0, d)

				s, err := scope.GetString("name")
				require.NoError(t, err)
				assert.Equal(t, "model", s)

				ids, err := scope.GetIntArray("ids")
				require.NoError(t, err)
				assert.Equal(t, []int{3, 1, 2}, ids)

				mask, err := scope.GetBoolArray("mask")
				require.NoError(t, err)
				assert.Equal(t, []bool{true, false}, mask)

				tags, err := scope.GetStringArray("tags")
				require.NoError(t, err)
				assert.Equal(t, []string{"a", "b"}, tags)

				raw, err := scope.GetCharArray("raw")
				require.NoError(t, err)
				assert.Equal(t, []byte("abc"), raw)

				fs, err := scope.GetFloatArray("fs")
				require.NoError(t, err)
				assert.Equal(t, []float32{0.25, -1}, fs)

				got, err := scope.GetDoubleArray("points")
				require.NoError(t, err)
				assert.Equal(t, doubles, got)
			})
		}
	}
}

func TestTypeMismatchAndMissingKey(t *testing.T) {
	db := NewMemory()
	require.NoError(t, db.PutInt("n", 1))

	_, err := db.GetDouble("n")
	assert.True(t, errors.Is(err, ErrTypeMismatch))

	_, err = db.GetIntArray("n")
	assert.True(t, errors.Is(err, ErrTypeMismatch))

	_, err = db.GetInt("missing")
	assert.True(t, errors.Is(err, ErrKeyNotFound))

	ok, err := db.KeyExists("n")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.KeyExists("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, errors.Is(db.PutInt("a/b", 1), ErrInvalidKey))
	assert.True(t, errors.Is(db.PutInt("", 1), ErrInvalidKey))
}

func TestScopes(t *testing.T) {
	db := NewMemory()
	require.NoError(t, db.PutInt("version", 1))

	tree, err := db.Child("tree")
	require.NoError(t, err)
	require.NoError(t, tree.PutInt("root", 0))

	node, err := tree.Child("node0")
	require.NoError(t, err)
	require.NoError(t, node.PutInt("level", 0))

	models, err := db.Child("models")
	require.NoError(t, err)
	require.NoError(t, models.PutInt("count", 0))

	keys, err := db.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"version"}, keys)

	children, err := db.Children()
	require.NoError(t, err)
	assert.Equal(t, []string{"models", "tree"}, children)

	children, err = tree.Children()
	require.NoError(t, err)
	assert.Equal(t, []string{"node0"}, children)

	// same key in sibling scopes does not collide
	require.NoError(t, models.PutInt("root", 7))
	v, err := tree.GetInt("root")
	require.NoError(t, err)
	assert.Equal(t, 0, v)
}

func TestBlockCompression(t *testing.T) {
	data := bytes.Repeat([]byte("kriging"), 200)
	for _, comp := range []CompressionType{CompressionLZ4, CompressionZSTD} {
		block, err := encodeBlock(data, comp)
		require.NoError(t, err)
		assert.Less(t, len(block), len(data), comp.String())
		assert.Equal(t, byte(comp), block[0])

		out, err := decodeBlock(block)
		require.NoError(t, err)
		assert.Equal(t, data, out)
	}

	// small payloads are stored raw
	block, err := encodeBlock([]byte("tiny"), CompressionZSTD)
	require.NoError(t, err)
	assert.Equal(t, byte(CompressionNone), block[0])
	out, err := decodeBlock(block)
	require.NoError(t, err)
	assert.Equal(t, []byte("tiny"), out)

	_, err = decodeBlock([]byte{1, 2})
	assert.Error(t, err)
}

func TestParseCompression(t *testing.T) {
	c, err := ParseCompression("zstd")
	require.NoError(t, err)
	assert.Equal(t, CompressionZSTD, c)

	c, err = ParseCompression("")
	require.NoError(t, err)
	assert.Equal(t, CompressionNone, c)

	_, err = ParseCompression("gzip")
	assert.Error(t, err)
}
