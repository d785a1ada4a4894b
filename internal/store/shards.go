package store

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/reedsolomon"

	"drafttable/internal/observability/metrics"
)

var shardMagic = []byte("DTS1")

// shard file layout:
//
//	magic(4) | dataShards(1) | parityShards(1) | index(1) |
//	totalLen(4, BE) | shardLen(4, BE) | sha256(payload)(32) | payload
const shardHeaderSize = 4 + 1 + 1 + 1 + 4 + 4 + sha256.Size

var (
	ErrShardCorrupt       = errors.New("store: corrupt shard")
	ErrInsufficientShards = errors.New("store: not enough shards to reconstruct snapshot")
)

func shardPath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("state-%d.shard", index))
}

// writeShards erasure-codes the sealed snapshot into data+parity shard files.
// Each shard is first written with a temporary suffix and the whole set is
// renamed only once every write succeeded, so a crash mid-write never leaves
// a mixed generation on disk.
func writeShards(dir string, dataShards, parityShards int, sealed []byte) error {
	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return err
	}
	shards, err := enc.Split(sealed)
	if err != nil {
		return err
	}
	if err := enc.Encode(shards); err != nil {
		return err
	}

	tmpPaths := make([]string, len(shards))
	for i, shard := range shards {
		buf := encodeShard(dataShards, parityShards, i, len(sealed), shard)
		tmp := shardPath(dir, i) + ".tmp"
		if err := os.WriteFile(tmp, buf, 0o600); err != nil {
			cleanup(tmpPaths[:i])
			return err
		}
		tmpPaths[i] = tmp
	}
	for i, tmp := range tmpPaths {
		if err := os.Rename(tmp, shardPath(dir, i)); err != nil {
			return err
		}
	}
	return nil
}

func encodeShard(dataShards, parityShards, index, totalLen int, payload []byte) []byte {
	buf := make([]byte, 0, shardHeaderSize+len(payload))
	buf = append(buf, shardMagic...)
	buf = append(buf, byte(dataShards), byte(parityShards), byte(index))
	buf = binary.BigEndian.AppendUint32(buf, uint32(totalLen))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(payload)))
	sum := sha256.Sum256(payload)
	buf = append(buf, sum[:]...)
	return append(buf, payload...)
}

func decodeShard(buf []byte, dataShards, parityShards, index int) (payload []byte, totalLen int, err error) {
	if len(buf) < shardHeaderSize || !bytes.Equal(buf[:4], shardMagic) {
		return nil, 0, ErrShardCorrupt
	}
	if int(buf[4]) != dataShards || int(buf[5]) != parityShards || int(buf[6]) != index {
		return nil, 0, ErrShardCorrupt
	}
	totalLen = int(binary.BigEndian.Uint32(buf[7:11]))
	shardLen := int(binary.BigEndian.Uint32(buf[11:15]))
	rest := buf[shardHeaderSize:]
	if len(rest) != shardLen {
		return nil, 0, ErrShardCorrupt
	}
	sum := sha256.Sum256(rest)
	if !bytes.Equal(sum[:], buf[15:15+sha256.Size]) {
		return nil, 0, ErrShardCorrupt
	}
	return rest, totalLen, nil
}

// readShards loads every available shard, treats missing or corrupt files as
// lost, reconstructs them when at least dataShards survive, and returns the
// reassembled sealed snapshot. Below the threshold it fails loudly.
func readShards(dir string, dataShards, parityShards int) ([]byte, error) {
	total := dataShards + parityShards
	shards := make([][]byte, total)
	available := 0
	totalLen := -1
	for i := 0; i < total; i++ {
		buf, err := os.ReadFile(shardPath(dir, i))
		if err != nil {
			continue
		}
		payload, n, err := decodeShard(buf, dataShards, parityShards, i)
		if err != nil {
			continue
		}
		shards[i] = payload
		available++
		totalLen = n
	}
	if available < dataShards || totalLen < 0 {
		return nil, fmt.Errorf("%w: %d of %d available, need %d",
			ErrInsufficientShards, available, total, dataShards)
	}

	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, err
	}
	if available < total {
		if err := enc.Reconstruct(shards); err != nil {
			return nil, fmt.Errorf("store: shard reconstruction: %w", err)
		}
		metrics.ShardReconstructionsTotal.Add(float64(total - available))
	}

	var out bytes.Buffer
	out.Grow(totalLen)
	if err := enc.Join(&out, shards, totalLen); err != nil {
		return nil, fmt.Errorf("store: shard join: %w", err)
	}
	return out.Bytes(), nil
}

// shardSetExists reports whether at least one shard file is present.
func shardSetExists(dir string, dataShards, parityShards int) bool {
	for i := 0; i < dataShards+parityShards; i++ {
		if _, err := os.Stat(shardPath(dir, i)); err == nil {
			return true
		}
	}
	return false
}

func cleanup(paths []string) {
	for _, p := range paths {
		if p != "" {
			_ = os.Remove(p)
		}
	}
}
