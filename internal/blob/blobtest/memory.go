// Package blobtest provides an in-memory blob.Store for tests.
package blobtest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"resource-service/internal/blob"
)

type object struct {
	data        []byte
	contentType string
}

type Store struct {
	mu      sync.Mutex
	objects map[string]object

	// Failure switches, set by tests.
	FailPut     bool
	FailPresign bool
	FailGet     bool
	FailDelete  bool
}

var _ blob.Store = (*Store)(nil)

var ErrInjected = errors.New("injected blob failure")

func New() *Store {
	return &Store{objects: make(map[string]object)}
}

func (s *Store) Put(_ context.Context, key string, body io.Reader, _ int64, contentType string) error {
	if s.FailPut {
		return ErrInjected
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = object{data: data, contentType: contentType}
	return nil
}

func (s *Store) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	if s.FailPresign {
		return "", ErrInjected
	}
	return fmt.Sprintf("https://blobs.test/%s?expires=%d", key, int(ttl.Seconds())), nil
}

func (s *Store) Get(_ context.Context, key string) (*blob.Object, error) {
	if s.FailGet {
		return nil, ErrInjected
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, blob.ErrNotFound
	}
	return &blob.Object{
		Body:          io.NopCloser(bytes.NewReader(obj.data)),
		ContentType:   obj.contentType,
		ContentLength: int64(len(obj.data)),
	}, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	if s.FailDelete {
		return ErrInjected
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *Store) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
