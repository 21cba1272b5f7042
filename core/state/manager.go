package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"hedge/storage"
)

// Manager reads and writes RLP encoded market records on a key-value store.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// KVPut stores the RLP encoding of value under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

// KVGet decodes the record under key into out. The boolean is false when no
// record exists.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	data, err := m.db.Get(key)
	if err != nil {
		if storage.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("state: decode %x: %w", key, err)
	}
	return true, nil
}

// KVDelete removes key from the store.
func (m *Manager) KVDelete(key []byte) error {
	return m.db.Delete(key)
}

type batchWriter struct {
	batch storage.Batch
}

func (w *batchWriter) put(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %x: %w", key, err)
	}
	w.batch.Put(key, encoded)
	return nil
}
