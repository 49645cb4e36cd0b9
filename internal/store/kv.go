package store

import "errors"

// Keys of the persisted chat state. Each holds a JSON array.
const (
	KeyMessages = "chat_messages"
	KeyRooms    = "chat_rooms"
	KeyUsers    = "chat_users"
)

var ErrKeyNotFound = errors.New("key not found")

// KV is the persisted key-value blob the chat state round-trips through.
type KV interface {
	// Get returns ErrKeyNotFound when key has never been written.
	Get(key string) ([]byte, error)
	// PutAll writes every entry or none of them.
	PutAll(entries map[string][]byte) error
	Close() error
}
