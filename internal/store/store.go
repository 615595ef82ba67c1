package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"xuesigner/internal/metrics"
)

var ErrClosed = errors.New("store closed")

// Store owns a single named JSON document. One goroutine holds the value and
// applies every read, mutation and write in arrival order, so writes reach the
// backend in the same order as the mutations they persist.
type Store[T any] struct {
	name       string
	backend    Backend
	newDefault func() T

	ops       chan op[T]
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

type op[T any] struct {
	ctx     context.Context
	apply   func(*T) error
	persist bool
	result  chan error
}

// New starts the owner goroutine for name. The document is loaded lazily on the
// first operation; newDefault supplies the value when nothing is stored yet.
func New[T any](name string, backend Backend, newDefault func() T) *Store[T] {
	s := &Store[T]{
		name:       name,
		backend:    backend,
		newDefault: newDefault,
		ops:        make(chan op[T]),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Name returns the store name the document is persisted under.
func (s *Store[T]) Name() string { return s.name }

// Get returns a deep snapshot of the current value.
func (s *Store[T]) Get(ctx context.Context) (T, error) {
	var out T
	err := s.do(ctx, func(v *T) error {
		data, err := Marshal(*v)
		if err != nil {
			return fmt.Errorf("snapshot %s: %w", s.name, err)
		}
		return Unmarshal(data, &out)
	}, false)
	return out, err
}

// View runs fn against the owned value without persisting. fn must not retain
// or modify the value.
func (s *Store[T]) View(ctx context.Context, fn func(T)) error {
	return s.do(ctx, func(v *T) error {
		fn(*v)
		return nil
	}, false)
}

// Update applies fn to the value in place and writes the whole document. If
// the write fails the mutation stays applied in memory and the error is
// returned: durability is unconfirmed, nothing is rolled back.
func (s *Store[T]) Update(ctx context.Context, fn func(*T)) error {
	return s.do(ctx, func(v *T) error {
		fn(v)
		return nil
	}, true)
}

// TryUpdate is Update for mutations that can refuse. When fn returns an error
// nothing is written and the error is returned as is; fn must leave the value
// untouched in that case.
func (s *Store[T]) TryUpdate(ctx context.Context, fn func(*T) error) error {
	return s.do(ctx, fn, true)
}

// Flush writes the current value without changing it.
func (s *Store[T]) Flush(ctx context.Context) error {
	return s.do(ctx, nil, true)
}

// Close stops the owner goroutine. Operations already accepted complete first.
func (s *Store[T]) Close() {
	s.closeOnce.Do(func() { close(s.done) })
	<-s.stopped
}

func (s *Store[T]) do(ctx context.Context, apply func(*T) error, persist bool) error {
	o := op[T]{ctx: ctx, apply: apply, persist: persist, result: make(chan error, 1)}
	select {
	case s.ops <- o:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
	return <-o.result
}

func (s *Store[T]) run() {
	defer close(s.stopped)

	var (
		value  T
		loaded bool
	)
	for {
		select {
		case <-s.done:
			return
		case o := <-s.ops:
			// accepted operations finish even if the caller gives up
			ctx := context.WithoutCancel(o.ctx)
			if !loaded {
				v, err := s.load(ctx)
				if err != nil {
					o.result <- err
					continue
				}
				value, loaded = v, true
			}
			o.result <- s.exec(ctx, &value, o)
		}
	}
}

func (s *Store[T]) load(ctx context.Context) (T, error) {
	data, ok, err := s.backend.Load(ctx, s.name)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("load %s: %w", s.name, err)
	}
	if !ok {
		return s.newDefault(), nil
	}
	var v T
	if err := Unmarshal(data, &v); err != nil {
		var zero T
		return zero, fmt.Errorf("decode %s: %w", s.name, err)
	}
	return v, nil
}

func (s *Store[T]) exec(ctx context.Context, value *T, o op[T]) error {
	if o.apply != nil {
		if err := safeApply(o.apply, value); err != nil {
			return err
		}
	}
	if !o.persist {
		return nil
	}
	data, err := Marshal(*value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", s.name, err)
	}
	err = s.backend.Save(ctx, s.name, data)
	metrics.ObserveStoreWrite(s.name, err == nil)
	if err != nil {
		return fmt.Errorf("save %s: %w", s.name, err)
	}
	return nil
}

func safeApply[T any](fn func(*T) error, v *T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("store mutation panicked: %v", r)
		}
	}()
	return fn(v)
}
