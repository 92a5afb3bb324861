package util

// Chunk splits keys into consecutive slices of at most size elements.
// The returned slices alias the input. size <= 0 yields one chunk.
func Chunk(keys []string, size int) [][]string {
	if len(keys) == 0 {
		return nil
	}
	if size <= 0 || size >= len(keys) {
		return [][]string{keys}
	}
	out := make([][]string, 0, (len(keys)+size-1)/size)
	for start := 0; start < len(keys); start += size {
		end := start + size
		if end > len(keys) {
			end = len(keys)
		}
		out = append(out, keys[start:end])
	}
	return out
}
