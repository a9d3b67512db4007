package transactions

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/vadiminshakov/spotsim/internal/domain"
)

const (
	defaultJournalDir    = "./wal/spotsim"
	journalSegmentLimit  = 1000
	journalMaxSegments   = 100
	transactionKeyPrefix = "transaction_"
)

var errNotInitialized = errors.New("transaction journal is not initialized")

// WALStore is an append-only journal of executed trades.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore opens or creates the journal under dir.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = defaultJournalDir
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "tx_",
		SegmentThreshold: journalSegmentLimit,
		MaxSegments:      journalMaxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init transaction WAL")
	}

	return &WALStore{wal: wal}, nil
}

// Append writes tx at the next WAL index.
func (s *WALStore) Append(tx domain.Transaction) error {
	if s == nil || s.wal == nil {
		return errNotInitialized
	}
	if tx.ID == "" {
		return errors.New("transaction id is required")
	}

	payload, err := json.Marshal(tx)
	if err != nil {
		return errors.Wrap(err, "marshal transaction")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Write(s.wal.CurrentIndex()+1, transactionKeyPrefix+tx.ID, payload)
}

// All replays the journal in write order.
func (s *WALStore) All() ([]domain.Transaction, error) {
	if s == nil || s.wal == nil {
		return nil, errNotInitialized
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var txs []domain.Transaction
	for msg := range s.wal.Iterator() {
		if !strings.HasPrefix(msg.Key, transactionKeyPrefix) {
			continue
		}
		var tx domain.Transaction
		if err := json.Unmarshal(msg.Value, &tx); err != nil {
			return nil, errors.Wrapf(err, "decode transaction %s", msg.Key)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errNotInitialized
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
