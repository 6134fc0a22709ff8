package storage

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
)

// Encoder and decoder are safe for concurrent EncodeAll/DecodeAll.
var (
	vectorEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	vectorDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

// encodeVector packs vec as little-endian float32 and compresses it.
func encodeVector(vec []float32) []byte {
	raw := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(f))
	}
	return vectorEncoder.EncodeAll(raw, make([]byte, 0, len(raw)/2))
}

func decodeVector(blob []byte) ([]float32, error) {
	raw, err := vectorDecoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress vector: %w", err)
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("corrupt vector: %d bytes", len(raw))
	}
	vec := make([]float32, len(raw)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return vec, nil
}
