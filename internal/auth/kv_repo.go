package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"onyx-chat/internal/storage"
)

// Keys in the shared key/value store.
const (
	DefaultKey = "auth_allowed_users"
	PendingKey = "auth_pending_users"
)

// KVRepository persists the allowlist as one JSON array under a single key.
type KVRepository struct {
	kv  storage.KV
	key string
	mu  sync.Mutex
}

func NewKVRepository(kv storage.KV, key string) *KVRepository {
	if key == "" {
		key = DefaultKey
	}
	return &KVRepository{kv: kv, key: key}
}

func (r *KVRepository) LoadAll() ([]User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadUnlocked()
}

func (r *KVRepository) Upsert(user User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	users, err := r.loadUnlocked()
	if err != nil {
		return err
	}
	updated := false
	for i, u := range users {
		if u.ID == user.ID {
			users[i] = user
			updated = true
			break
		}
	}
	if !updated {
		users = append(users, user)
	}
	return r.saveUnlocked(users)
}

func (r *KVRepository) Remove(userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	users, err := r.loadUnlocked()
	if err != nil {
		return err
	}
	out := make([]User, 0, len(users))
	for _, u := range users {
		if u.ID != userID {
			out = append(out, u)
		}
	}
	return r.saveUnlocked(out)
}

func (r *KVRepository) loadUnlocked() ([]User, error) {
	data, err := r.kv.Get(r.key)
	if errors.Is(err, storage.ErrNotFound) {
		return []User{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load allowlist: %w", err)
	}
	var users []User
	if err := json.Unmarshal(data, &users); err != nil {
		// malformed -> start fresh
		log.Printf("⚠️ Allowlist at %q is malformed, starting empty: %v", r.key, err)
		return []User{}, nil
	}
	return users, nil
}

func (r *KVRepository) saveUnlocked(users []User) error {
	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return fmt.Errorf("encode allowlist: %w", err)
	}
	if err := r.kv.Set(r.key, data); err != nil {
		return fmt.Errorf("save allowlist: %w", err)
	}
	return nil
}
