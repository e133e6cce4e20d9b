package files

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomContent(t *testing.T, n int) []byte {
	t.Helper()
	content := make([]byte, n)
	_, err := rand.Read(content)
	require.NoError(t, err)
	return content
}

func TestSplitAndReassemblePlain(t *testing.T) {
	content := randomContent(t, 3*DefaultChunkSize+100)

	meta, chunks, err := Split("report.pdf", content, false)
	require.NoError(t, err)
	assert.Equal(t, uint16(4), meta.ChunkCount)
	assert.Zero(t, meta.DataShards)

	r := NewReceiver()
	r.HandleMetadata(meta)

	for i, c := range chunks {
		got, gotMeta, err := r.HandleChunk(c)
		require.NoError(t, err)
		if i < len(chunks)-1 {
			assert.Nil(t, got, "file complete early at chunk %d", i)
		} else {
			require.NotNil(t, got)
			assert.True(t, bytes.Equal(got, content))
			assert.Equal(t, meta.Name, gotMeta.Name)
		}
	}
	assert.Zero(t, r.Pending())
}

func TestSplitWithParitySurvivesLoss(t *testing.T) {
	content := randomContent(t, 64*1024)

	meta, chunks, err := Split("photo.jpg", content, true)
	require.NoError(t, err)
	assert.Equal(t, uint16(DefaultDataShards+DefaultParityShards), meta.ChunkCount)

	r := NewReceiver()
	r.HandleMetadata(meta)

	// Drop every parity-shard-count worth of data chunks; parity covers it.
	var got []byte
	delivered := 0
	for i, c := range chunks {
		if i < DefaultParityShards { // lose the first 5 data chunks
			continue
		}
		out, _, err := r.HandleChunk(c)
		require.NoError(t, err)
		delivered++
		if out != nil {
			got = out
			break
		}
	}
	require.NotNil(t, got, "reconstruction never completed")
	assert.True(t, bytes.Equal(got, content))
	assert.Equal(t, DefaultDataShards, delivered, "reconstructs at exactly the data-shard count")
}

func TestHandleChunkRejectsCorrupt(t *testing.T) {
	content := randomContent(t, 2048)

	meta, chunks, err := Split("notes.txt", content, false)
	require.NoError(t, err)

	r := NewReceiver()
	r.HandleMetadata(meta)

	bad := *chunks[0]
	bad.Data = append([]byte(nil), bad.Data...)
	bad.Data[0] ^= 0x01

	_, _, err = r.HandleChunk(&bad)
	assert.ErrorIs(t, err, ErrChunkCorrupt)

	// The intact chunk still completes the transfer.
	got, _, err := r.HandleChunk(chunks[0])
	require.NoError(t, err)
	assert.True(t, bytes.Equal(got, content))
}

func TestHandleChunkUnknownFile(t *testing.T) {
	content := randomContent(t, 256)
	_, chunks, err := Split("x.bin", content, false)
	require.NoError(t, err)

	r := NewReceiver()
	_, _, err = r.HandleChunk(chunks[0])
	assert.ErrorIs(t, err, ErrUnknownFile)
}

func TestSplitRejectsEmpty(t *testing.T) {
	_, _, err := Split("empty", nil, false)
	assert.Error(t, err)
}
