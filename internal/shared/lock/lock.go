// Package lock fornece exclusão mútua por chave (ex.: por usuário) entre
// requisições concorrentes, local ao processo ou distribuída via Redis.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrNotAcquired indica que o lock não foi obtido dentro do tempo de espera
var ErrNotAcquired = errors.New("lock not acquired")

// Locker obtém um lock exclusivo para key; a função retornada libera o lock
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Local implementa Locker dentro do processo. Serve para deploy de instância única.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local { return &Local{slots: make(map[string]*slot)} }

func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, s, false)
		return nil, errors.Join(ErrNotAcquired, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, s, true) })
	}, nil
}

func (l *Local) release(key string, s *slot, held bool) {
	if held {
		<-s.ch
	}
	l.mu.Lock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
	l.mu.Unlock()
}
