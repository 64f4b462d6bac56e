// Package objectstore provides durable storage for published media artefacts
// behind stable storage identifiers.
package objectstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound indicates the storage id does not resolve to a stored object.
var ErrNotFound = errors.New("object not found")

// Object is one stored artefact together with its content framing.
type Object struct {
	Body        []byte
	ContentType string
}

// Store persists opaque byte payloads and resolves them back by id. Put
// returns a stable identifier valid for the lifetime of the object;
// re-uploading a payload is safe and yields a fresh id. Implementations must
// be safe for concurrent use.
type Store interface {
	Put(ctx context.Context, contentType string, body []byte) (string, error)
	Get(ctx context.Context, id string) (Object, error)
	Delete(ctx context.Context, id string) error
}

func generateObjectID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generate object id: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// MemoryStore is an in-process Store used by tests and single-node
// deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]Object
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]Object)}
}

func (s *MemoryStore) Put(ctx context.Context, contentType string, body []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id, err := generateObjectID()
	if err != nil {
		return "", err
	}
	stored := Object{Body: append([]byte(nil), body...), ContentType: contentType}
	s.mu.Lock()
	s.objects[id] = stored
	s.mu.Unlock()
	return id, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	s.mu.RLock()
	stored, ok := s.objects[id]
	s.mu.RUnlock()
	if !ok {
		return Object{}, fmt.Errorf("get object %s: %w", id, ErrNotFound)
	}
	return Object{Body: append([]byte(nil), stored.Body...), ContentType: stored.ContentType}, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[id]; !ok {
		return fmt.Errorf("delete object %s: %w", id, ErrNotFound)
	}
	delete(s.objects, id)
	return nil
}

// Len reports the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
