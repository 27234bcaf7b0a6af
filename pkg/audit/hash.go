package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/zeebo/blake3"
)

// genesisSeed is hashed to produce the fixed genesis constant every chain
// starts from.
const genesisSeed = "ZULU_AUDIT_GENESIS_v1"

func hashBytes(algo Algo, data []byte) string {
	switch algo {
	case AlgoSHA256:
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:])
	default:
		sum := blake3.Sum256(data)
		return hex.EncodeToString(sum[:])
	}
}

func genesisHash(algo Algo) string {
	return hashBytes(algo, []byte(genesisSeed))
}

// canonicalRecordBytes renders a record plus its prev_hash in deterministic,
// sorted-key, whitespace-free JSON — the exact bytes that get hashed. details
// is merged in alongside the fixed fields so arbitrary per-event keys
// participate in the hash the same way the fixed ones do.
func canonicalRecordBytes(seq uint64, ts string, event EventKind, details Detail, prevHash string) ([]byte, error) {
	flat := make(map[string]any, len(details)+4)
	for k, v := range details {
		flat[k] = v
	}
	flat["seq"] = seq
	flat["ts"] = ts
	flat["event"] = string(event)
	flat["prev_hash"] = prevHash

	// json.Marshal on a map[string]any sorts keys lexicographically already,
	// and encoding/json emits no insignificant whitespace — this matches the
	// source's sort_keys=True, separators=(",", ":") canonicalization.
	return json.Marshal(flat)
}

func computeRecordHash(algo Algo, seq uint64, ts string, event EventKind, details Detail, prevHash string) (string, error) {
	canonical, err := canonicalRecordBytes(seq, ts, event, details, prevHash)
	if err != nil {
		return "", err
	}
	return hashBytes(algo, canonical), nil
}
