package audit

import (
	"os"
	"strings"
	"testing"
)

func readFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
}

// tamperLine replaces the first occurrence of from with to on the given
// zero-indexed line, simulating an editor tampering with one field of one
// record without touching the rest of the file.
func tamperLine(data []byte, lineIdx int, from, to string) []byte {
	lines := strings.Split(string(data), "\n")
	if lineIdx < len(lines) {
		lines[lineIdx] = strings.Replace(lines[lineIdx], from, to, 1)
	}
	return []byte(strings.Join(lines, "\n"))
}
