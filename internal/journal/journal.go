// Package journal keeps an append-only audit trail of the ledger
// transactions the facilitator submitted. The coordinator writes to it but
// never reads it back for decisions; ledger status is the only truth.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/log"
)

const (
	// CacheMB is the LevelDB block cache size. Entries are written once and
	// read rarely.
	CacheMB = 16

	// Handles is the maximum number of open LevelDB file handles.
	Handles = 16
)

var (
	ErrClosed = errors.New("journal is closed")

	stepPrefix = []byte("step:")
	seqKey     = []byte("meta:seq")
)

// Entry is one mined step of a message.
type Entry struct {
	MessageHash common.Hash `json:"message_hash"`
	Op          string      `json:"op"`
	Side        string      `json:"side"`
	TxHash      common.Hash `json:"tx_hash"`
	BlockNumber uint64      `json:"block_number"`
	Time        time.Time   `json:"time"`
}

// Journal stores entries keyed by message hash and insertion order.
type Journal struct {
	db     ethdb.Database
	mu     sync.RWMutex
	seq    uint64
	closed bool
	logger log.Logger
}

// Open opens a persistent journal at path. An empty path yields an
// in-memory journal; a path that cannot be opened is an error.
func Open(path string) (*Journal, error) {
	logger := log.New("component", "journal")
	var db ethdb.Database

	if path != "" {
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, fmt.Errorf("create journal directory %s: %w", path, err)
		}
		ldb, err := leveldb.New(path, CacheMB, Handles, "", false)
		if err != nil {
			return nil, fmt.Errorf("open journal %s: %w", path, err)
		}
		db = rawdb.NewDatabase(ldb)
		logger.Info("Opened persistent journal", "path", path)
	} else {
		db = rawdb.NewMemoryDatabase()
		logger.Debug("Using in-memory journal")
	}

	j := &Journal{db: db, logger: logger}
	if enc, err := db.Get(seqKey); err == nil && len(enc) == 8 {
		j.seq = binary.BigEndian.Uint64(enc)
	}
	return j, nil
}

func entryKey(hash common.Hash, seq uint64) []byte {
	key := make([]byte, 0, len(stepPrefix)+common.HashLength+8)
	key = append(key, stepPrefix...)
	key = append(key, hash.Bytes()...)
	return binary.BigEndian.AppendUint64(key, seq)
}

// Append stores e. A zero Time is set to now.
func (j *Journal) Append(e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrClosed
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	enc, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}

	next := j.seq + 1
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], next)

	batch := j.db.NewBatch()
	if err := batch.Put(entryKey(e.MessageHash, next), enc); err != nil {
		return err
	}
	if err := batch.Put(seqKey, seq[:]); err != nil {
		return err
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	j.seq = next
	return nil
}

// Steps returns the entries of a message in insertion order.
func (j *Journal) Steps(hash common.Hash) ([]Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return nil, ErrClosed
	}
	prefix := append(append([]byte{}, stepPrefix...), hash.Bytes()...)
	it := j.db.NewIterator(prefix, nil)
	defer it.Release()

	var out []Entry
	for it.Next() {
		var e Entry
		if err := json.Unmarshal(it.Value(), &e); err != nil {
			return nil, fmt.Errorf("decode entry %x: %w", it.Key(), err)
		}
		out = append(out, e)
	}
	return out, it.Error()
}

// Len returns the number of entries ever appended.
func (j *Journal) Len() uint64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.seq
}

// Close gracefully closes the underlying database.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true
	return j.db.Close()
}
