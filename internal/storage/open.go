package storage

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
)

// Open creates the KV backend by name. path is a directory for the file
// backend and the database directory for sqlite and bolt.
func Open(backend, path string) (KV, error) {
	switch strings.ToLower(backend) {
	case "", BackendFile:
		return NewFileKV(path)
	case BackendSQLite:
		return NewSQLiteKV(filepath.Join(path, "sessions.db"))
	case BackendBolt:
		return NewBoltKV(filepath.Join(path, "sessions.bolt"))
	default:
		return nil, fmt.Errorf("unknown store backend: %s", backend)
	}
}
