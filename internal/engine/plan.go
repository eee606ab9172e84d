package engine

import "fmt"

// MaxChunkSize is the largest region handed to a single duplicate call. The
// native interfaces take 32-bit lengths on some platforms, so the ceiling
// stays well below 4 GiB.
const MaxChunkSize int64 = 1 << 31

// Chunk is one duplicate-extent call.
type Chunk struct {
	SourceOffset      int64
	DestinationOffset int64
	Length            int64
	// Last marks the chunk that runs to the cluster-rounded end of the file.
	Last bool
}

// RoundUp rounds n up to a multiple of multiple.
func RoundUp(n, multiple int64) int64 {
	return (n + multiple - 1) / multiple * multiple
}

// Plan splits [0, length) into cluster multiples no larger than maxChunk.
// The final chunk is measured against length rounded up to the cluster size,
// since duplicate calls take whole clusters even when the file ends mid-cluster.
func Plan(length, clusterSize, maxChunk int64) ([]Chunk, error) {
	switch {
	case length < 0:
		return nil, fmt.Errorf("invalid clone length %d", length)
	case clusterSize <= 0:
		return nil, fmt.Errorf("invalid cluster size %d", clusterSize)
	case maxChunk < clusterSize:
		return nil, fmt.Errorf("chunk ceiling %d is below the cluster size %d", maxChunk, clusterSize)
	}

	maxChunk -= maxChunk % clusterSize
	rounded := RoundUp(length, clusterSize)

	chunks := make([]Chunk, 0, (rounded+maxChunk-1)/maxChunk)
	for offset := int64(0); offset < length; {
		n := min(rounded-offset, maxChunk)
		chunks = append(chunks, Chunk{
			SourceOffset:      offset,
			DestinationOffset: offset,
			Length:            n,
			Last:              offset+n == rounded,
		})
		offset += n
	}
	return chunks, nil
}
