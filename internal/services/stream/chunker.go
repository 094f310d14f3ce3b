package stream

// SplitChunks slices text into chunks of at most size code points. The chunks
// concatenate back to the original string exactly; a multi-byte rune is never
// split. Empty input yields no chunks.
func SplitChunks(text string, size int) []string {
	if text == "" {
		return nil
	}
	if size <= 0 {
		return []string{text}
	}

	runes := []rune(text)
	chunks := make([]string, 0, (len(runes)+size-1)/size)
	for i := 0; i < len(runes); i += size {
		end := min(i+size, len(runes))
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}
