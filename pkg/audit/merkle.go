package audit

// merkleRoot computes a Merkle root over a window of leaf hashes, duplicating
// the last leaf at each odd level so every level halves cleanly.
func merkleRoot(algo Algo, hashes []string) string {
	if len(hashes) == 0 {
		return hashBytes(algo, []byte("EMPTY_MERKLE"))
	}

	level := make([]string, len(hashes))
	copy(level, hashes)

	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, hashBytes(algo, []byte(left+right)))
		}
		level = next
	}

	return level[0]
}
