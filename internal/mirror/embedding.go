package mirror

import (
	"encoding/binary"
	"math"
)

// packEmbedding encodes a vector as a little-endian float32 blob.
func packEmbedding(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// unpackEmbedding decodes a little-endian float32 blob. Empty or truncated
// blobs decode to nil.
func unpackEmbedding(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
