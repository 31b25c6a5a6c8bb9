package gobayeux

import (
	"errors"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const connectResponse = `[
  {"channel":"/foo/bar","id":"1","data":{"text":"hello [world]"}},
  {"channel":"/foo/baz","id":"2","data":[1,2,3]},
  {"channel":"/meta/connect","successful":true,"advice":{"reconnect":"retry","interval":0}}
]`

func feedChunks(t *testing.T, a *ResponseAssembler, id string, body []byte, cuts []int) ([]Message, bool) {
	t.Helper()
	prev := 0
	for _, cut := range append(cuts, len(body)) {
		require.NoError(t, a.Append(id, body[prev:cut]))
		prev = cut
	}
	return a.TryExtractFrames(id)
}

func TestResponseAssembler_ChunkBoundaryInvariance(t *testing.T) {
	body := []byte(connectResponse)

	whole := NewResponseAssembler(0, nil)
	want, ok := feedChunks(t, whole, "whole", body, nil)
	require.True(t, ok)
	require.Len(t, want, 3)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		n := 1 + rng.Intn(10)
		cuts := make([]int, n)
		for j := range cuts {
			cuts[j] = rng.Intn(len(body))
		}
		sort.Ints(cuts)

		a := NewResponseAssembler(0, nil)
		got, ok := feedChunks(t, a, "chunked", body, cuts)
		require.True(t, ok, "cuts %v", cuts)
		assert.Equal(t, want, got, "cuts %v", cuts)
	}
}

func TestResponseAssembler_IncompleteUntilLastChunk(t *testing.T) {
	a := NewResponseAssembler(0, nil)
	body := []byte(connectResponse)
	mid := len(body) / 2

	require.NoError(t, a.Append("r", body[:mid]))
	_, ok := a.TryExtractFrames("r")
	assert.False(t, ok)

	require.NoError(t, a.Append("r", body[mid:]))
	ms, ok := a.TryExtractFrames("r")
	require.True(t, ok)
	assert.Equal(t, Channel("/foo/bar"), ms[0].Channel)
	assert.Equal(t, MetaConnect, ms[2].Channel)
}

func TestResponseAssembler_MalformedIsIncomplete(t *testing.T) {
	a := NewResponseAssembler(0, nil)
	require.NoError(t, a.Append("r", []byte(`{"channel":"/foo"}]`)))
	_, ok := a.TryExtractFrames("r")
	assert.False(t, ok)

	_, ok = a.TryExtractFrames("unknown")
	assert.False(t, ok)
}

func TestResponseAssembler_FrameTooLarge(t *testing.T) {
	a := NewResponseAssembler(16, nil)
	require.NoError(t, a.Append("r", []byte(`[{"channel":`)))
	err := a.Append("r", []byte(`"/foo/bar"}]`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFrameTooLarge))
	assert.Equal(t, FrameTooLarge, KindOf(err))
	assert.Equal(t, 0, a.Buffered("r"), "buffer is dropped once the limit is hit")
}

func TestResponseAssembler_RequestsAreIsolated(t *testing.T) {
	a := NewResponseAssembler(0, nil)
	require.NoError(t, a.Append("a", []byte(`[{"channel":"/a"}`)))
	require.NoError(t, a.Append("b", []byte(`[{"channel":"/b"}]`)))
	require.NoError(t, a.Append("a", []byte(`]`)))

	ms, ok := a.TryExtractFrames("a")
	require.True(t, ok)
	assert.Equal(t, Channel("/a"), ms[0].Channel)
	ms, ok = a.TryExtractFrames("b")
	require.True(t, ok)
	assert.Equal(t, Channel("/b"), ms[0].Channel)

	assert.Equal(t, 2, a.Pending())
	a.Release("a")
	a.Release("b")
	assert.Equal(t, 0, a.Pending())
}

func TestJSONCodec_RejectsTrailingData(t *testing.T) {
	_, err := JSONCodec{}.Decode([]byte(`[{"channel":"/a"}] [`))
	assert.Error(t, err)
	_, err = JSONCodec{}.Decode([]byte(`{"channel":"/a"}`))
	assert.Error(t, err)
	assert.Equal(t, ParseError, KindOf(err))

	ms, err := JSONCodec{}.Decode([]byte(" [] \n"))
	require.NoError(t, err)
	assert.Empty(t, ms)
}
