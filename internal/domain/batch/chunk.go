package batch

// Chunk is a half-open interval [Start, End) of a work space.
type Chunk struct {
	Start int
	End   int
}

// Len returns the number of items covered by the chunk.
func (c Chunk) Len() int {
	return c.End - c.Start
}

// SplitRange partitions [0, total) into at most parts contiguous chunks.
// Every chunk except the last holds ceil(total/parts) items; the last chunk is
// truncated to the remainder. The chunks cover the range exactly once with no
// overlap, which is what lets workers share an output tree without locking.
func SplitRange(total, parts int) []Chunk {
	if total <= 0 {
		return nil
	}
	if parts <= 0 {
		parts = 1
	}

	size := (total + parts - 1) / parts
	chunks := make([]Chunk, 0, parts)
	for start := 0; start < total; start += size {
		end := start + size
		if end > total {
			end = total
		}
		chunks = append(chunks, Chunk{Start: start, End: end})
	}
	return chunks
}
