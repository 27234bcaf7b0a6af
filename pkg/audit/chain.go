package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Chain is an append-only, hash-chained event log with periodic Merkle
// checkpoint compaction into a sibling file. One Chain owns one log file;
// the design assumes a single writer process (§5 of the design — concurrent
// writers to the same file are undefined behaviour).
type Chain struct {
	mu sync.Mutex

	logPath        string
	merklePath     string
	merkleInterval int
	algo           Algo
	log            *slog.Logger

	prevHash     string
	seq          uint64
	windowHashes []string
}

// Option configures a Chain at construction.
type Option func(*Chain)

// WithMerklePath overrides the default sibling-file naming convention.
func WithMerklePath(path string) Option {
	return func(c *Chain) { c.merklePath = path }
}

// WithMerkleInterval overrides the default 360-event checkpoint window.
func WithMerkleInterval(n int) Option {
	return func(c *Chain) { c.merkleInterval = n }
}

// WithAlgo selects the hash primitive. Defaults to BLAKE3; SHA-256 is the
// documented fallback, chosen explicitly rather than probed for at runtime.
func WithAlgo(algo Algo) Option {
	return func(c *Chain) { c.algo = algo }
}

// WithLogger overrides the default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Chain) { c.log = l }
}

// Open opens (or creates) a chain at logPath, resuming from the last
// well-formed record if the file already exists.
func Open(logPath string, opts ...Option) (*Chain, error) {
	c := &Chain{
		logPath:        logPath,
		merklePath:     defaultMerklePath(logPath),
		merkleInterval: 360,
		algo:           AlgoBlake3,
		log:            slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "audit")
	c.prevHash = genesisHash(c.algo)

	forked, brokenAt, err := c.resume()
	if err != nil {
		return nil, fmt.Errorf("resume audit chain: %w", err)
	}
	if forked {
		c.appendLocked(EventChainForkRecovered, Detail{"malformed_line": brokenAt})
	}
	return c, nil
}

func defaultMerklePath(logPath string) string {
	if strings.HasSuffix(logPath, ".jsonl") {
		return strings.TrimSuffix(logPath, ".jsonl") + "-merkle.jsonl"
	}
	return logPath + "-merkle.jsonl"
}

// resume scans the log file to the last well-formed line. A malformed tail
// is reported via the (forked bool, brokenAtLine int) return rather than an
// error — the chain still comes up, resuming from genesis, and the caller
// audits that fact as its own event.
func (c *Chain) resume() (forked bool, brokenAtLine int, err error) {
	f, err := os.Open(c.logPath)
	if os.IsNotExist(err) {
		if mkErr := os.MkdirAll(filepath.Dir(c.logPath), 0o755); mkErr != nil {
			return false, 0, mkErr
		}
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	defer f.Close()

	var lastGood map[string]any
	lineNum := 0
	sawMalformedTail := false

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var record map[string]any
		if jsonErr := json.Unmarshal([]byte(line), &record); jsonErr != nil {
			sawMalformedTail = true
			continue
		}
		sawMalformedTail = false
		lastGood = record
	}
	if scanErr := scanner.Err(); scanErr != nil {
		return false, 0, scanErr
	}

	if lastGood != nil {
		if h, ok := lastGood["hash"].(string); ok {
			c.prevHash = h
		}
		if s, ok := lastGood["seq"].(float64); ok {
			c.seq = uint64(s) + 1
		}
		c.log.Info("audit chain resumed", "seq", c.seq, "prev_hash", truncate(c.prevHash, 16))
	}
	if sawMalformedTail {
		c.log.Warn("malformed audit log tail, resuming chain from genesis", "line", lineNum)
		c.prevHash = genesisHash(c.algo)
	}

	return sawMalformedTail, lineNum, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Append writes one hash-chained record. It always advances the in-memory
// head even if the on-disk write fails — an incomplete on-disk record is
// detectable on the next Verify; a silently forked chain across a restart is
// not recoverable at all, so the trade is deliberate (§4.A failure
// semantics).
func (c *Chain) Append(event EventKind, details Detail) Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appendLocked(event, details)
}

func (c *Chain) appendLocked(event EventKind, details Detail) Record {
	ts := time.Now().UTC()
	tsStr := ts.Format(time.RFC3339Nano)

	hash, err := computeRecordHash(c.algo, c.seq, tsStr, event, details, c.prevHash)
	if err != nil {
		// Hashing a map[string]any only fails on unmarshalable values (channels,
		// funcs); treat as a programmer error in the caller's detail map.
		c.log.Error("failed to hash audit record, dropping detail map", "event", event, "error", err)
		hash, _ = computeRecordHash(c.algo, c.seq, tsStr, event, nil, c.prevHash)
	}

	record := Record{
		Seq:      c.seq,
		TS:       ts,
		Event:    event,
		Details:  details,
		PrevHash: c.prevHash,
		Hash:     hash,
		Algo:     c.algo,
	}

	if writeErr := c.writeLine(record); writeErr != nil {
		c.log.Error("CRITICAL: failed to write audit record, chain head still advances", "error", writeErr, "seq", c.seq)
	}

	c.prevHash = hash
	c.seq++
	c.windowHashes = append(c.windowHashes, hash)

	c.log.Info("audit", "seq", record.Seq, "event", event, "hash", truncate(hash, 16))

	if len(c.windowHashes) >= c.merkleInterval {
		c.emitMerkleRootLocked()
	}

	return record
}

func (c *Chain) writeLine(r Record) error {
	f, err := os.OpenFile(c.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	line, err := orderedRecordJSON(r)
	if err != nil {
		return err
	}
	_, err = f.Write(append(line, '\n'))
	return err
}

// orderedRecordJSON renders a record as ts, seq and event, then the
// event-specific detail keys (sorted, for determinism), then prev_hash, hash
// and algo. The detail keys sit between event and prev_hash; they are not
// written after algo.
func orderedRecordJSON(r Record) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	write := func(first bool, key string, val any) error {
		if !first {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(key)
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(vb)
		return nil
	}

	if err := write(true, "ts", r.TS.Format(time.RFC3339Nano)); err != nil {
		return nil, err
	}
	if err := write(false, "seq", r.Seq); err != nil {
		return nil, err
	}
	if err := write(false, "event", string(r.Event)); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(r.Details))
	for k := range r.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := write(false, k, r.Details[k]); err != nil {
			return nil, err
		}
	}

	if err := write(false, "prev_hash", r.PrevHash); err != nil {
		return nil, err
	}
	if err := write(false, "hash", r.Hash); err != nil {
		return nil, err
	}
	if err := write(false, "algo", string(r.Algo)); err != nil {
		return nil, err
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// emitMerkleRootLocked computes and persists a checkpoint for the current
// window, then clears it. Must be called with mu held.
func (c *Chain) emitMerkleRootLocked() {
	if len(c.windowHashes) == 0 {
		return
	}

	root := merkleRoot(c.algo, c.windowHashes)
	checkpoint := MerkleCheckpoint{
		TS:         time.Now().UTC(),
		Type:       "merkle_root",
		EventCount: len(c.windowHashes),
		FirstSeq:   c.seq - uint64(len(c.windowHashes)),
		LastSeq:    c.seq - 1,
		MerkleRoot: root,
		Algo:       c.algo,
	}

	if err := c.writeMerkleCheckpoint(checkpoint); err != nil {
		c.log.Error("failed to write merkle checkpoint", "error", err)
	} else {
		c.log.Info("merkle root", "root", truncate(root, 16), "events", checkpoint.EventCount)
	}

	c.windowHashes = c.windowHashes[:0]
}

func (c *Chain) writeMerkleCheckpoint(cp MerkleCheckpoint) error {
	if err := os.MkdirAll(filepath.Dir(c.merklePath), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(c.merklePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	line, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	_, err = f.Write(append(line, '\n'))
	return err
}

// FlushMerkle force-emits a checkpoint for whatever is in the current
// window, for controlled shutdown.
func (c *Chain) FlushMerkle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitMerkleRootLocked()
}

// ChainHead returns the current head hash.
func (c *Chain) ChainHead() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prevHash
}

// NextSequence returns the sequence number the next Append will use.
func (c *Chain) NextSequence() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Verify walks the file from record 0, recomputing each hash and checking
// prev_hash linkage and sequence contiguity. Returns (true, nil) if every
// record checks out; otherwise (false, &seq) naming the first offending
// sequence number. No correction is attempted.
func Verify(logPath string, algo Algo) (bool, *uint64, error) {
	f, err := os.Open(logPath)
	if os.IsNotExist(err) {
		return true, nil, nil
	}
	if err != nil {
		return false, nil, err
	}
	defer f.Close()

	prevHash := genesisHash(algo)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	lineNum := uint64(0)
	expectedSeq := uint64(0)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			lineNum++
			continue
		}

		var raw map[string]json.RawMessage
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return false, &lineNum, nil
		}

		var seq uint64
		var event EventKind
		var storedHash, storedPrev string
		var details Detail = Detail{}

		for k, v := range raw {
			switch k {
			case "seq":
				_ = json.Unmarshal(v, &seq)
			case "event":
				_ = json.Unmarshal(v, &event)
			case "hash":
				_ = json.Unmarshal(v, &storedHash)
			case "prev_hash":
				_ = json.Unmarshal(v, &storedPrev)
			case "algo", "ts":
				// excluded from the hashed detail set deliberately
			default:
				var val any
				_ = json.Unmarshal(v, &val)
				details[k] = val
			}
		}
		var tsRaw string
		if v, ok := raw["ts"]; ok {
			_ = json.Unmarshal(v, &tsRaw)
		}

		if seq != expectedSeq || storedPrev != prevHash {
			return false, &seq, nil
		}

		expected, err := computeRecordHash(algo, seq, tsRaw, event, details, prevHash)
		if err != nil {
			return false, &seq, nil
		}
		if expected != storedHash {
			return false, &seq, nil
		}

		prevHash = storedHash
		expectedSeq++
		lineNum++
	}
	if err := scanner.Err(); err != nil {
		return false, nil, err
	}

	return true, nil, nil
}
