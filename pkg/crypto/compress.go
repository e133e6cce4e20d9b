package crypto

import (
	"errors"

	"github.com/pierrec/lz4/v4"
)

// CompressThreshold is the minimum payload size worth compressing.
const CompressThreshold = 100

var ErrDecompressFailed = errors.New("lz4 decompression failed")

// LZ4Compress compresses data with the LZ4 fast path. It returns (data,
// false) unchanged when data is below CompressThreshold or when compression
// does not strictly shrink it.
func LZ4Compress(data []byte) ([]byte, bool) {
	if len(data) < CompressThreshold {
		return data, false
	}
	buf := make([]byte, lz4.CompressBlockBound(len(data)))
	var c lz4.Compressor
	n, err := c.CompressBlock(data, buf)
	if err != nil || n == 0 || n >= len(data) {
		return data, false
	}
	return buf[:n], true
}

// LZ4Decompress decompresses an LZ4 block. originalSize, when positive, sizes
// the output buffer exactly; otherwise the buffer is grown until the block
// fits.
func LZ4Decompress(data []byte, originalSize int) ([]byte, error) {
	if originalSize > 0 {
		out := make([]byte, originalSize)
		n, err := lz4.UncompressBlock(data, out)
		if err != nil {
			return nil, ErrDecompressFailed
		}
		return out[:n], nil
	}
	for size := 4 * len(data); size <= 64*1024*1024; size *= 2 {
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(data, out)
		if err == nil {
			return out[:n], nil
		}
	}
	return nil, ErrDecompressFailed
}
