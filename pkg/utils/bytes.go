package utils

import (
	"encoding/binary"
	"math"
)

// Float32sToBytes encodes a float32 slice as little-endian bytes.
// Used for embedding BLOB columns and the vector index snapshot format.
func Float32sToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

// Float32sFromBytes decodes little-endian bytes into a float32 slice.
func Float32sFromBytes(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
