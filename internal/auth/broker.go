// Package auth turns verified identity tokens into sign-in and sign-out events.
package auth

import (
	"sync"

	"go.uber.org/zap"

	"github.com/kailas-cloud/pixelquota/internal/usecase/session"
)

// Broker is an in-process auth event stream. Identities are delivered to
// subscribers in emission order; the last one is replayed to late subscribers.
type Broker struct {
	mu     sync.Mutex
	subs   map[int]func(*session.Identity)
	order  []int
	next   int
	last   *session.Identity
	logger *zap.Logger
}

// NewBroker creates a broker with nobody signed in.
func NewBroker(logger *zap.Logger) *Broker {
	return &Broker{
		subs:   make(map[int]func(*session.Identity)),
		logger: logger,
	}
}

// Subscribe registers fn. If someone is signed in, fn is called with that
// identity before Subscribe returns.
func (b *Broker) Subscribe(fn func(*session.Identity)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	b.subs[id] = fn
	b.order = append(b.order, id)

	if b.last != nil {
		fn(copyIdentity(b.last))
	}

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
		for i, v := range b.order {
			if v == id {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}
}

// SignIn emits a signed-in identity.
func (b *Broker) SignIn(id session.Identity) {
	b.logger.Info("Sign-in", zap.String("uid", id.UID), zap.String("email", id.Email))
	b.emit(&id)
}

// SignOut emits a sign-out.
func (b *Broker) SignOut() {
	b.logger.Info("Sign-out")
	b.emit(nil)
}

// Current returns the last emitted identity, or nil.
func (b *Broker) Current() *session.Identity {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last == nil {
		return nil
	}
	return copyIdentity(b.last)
}

// emit delivers under the lock so concurrent emitters cannot reorder events.
func (b *Broker) emit(id *session.Identity) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if id == nil {
		b.last = nil
	} else {
		b.last = copyIdentity(id)
	}
	for _, sid := range b.order {
		var cp *session.Identity
		if id != nil {
			cp = copyIdentity(id)
		}
		b.subs[sid](cp)
	}
}

func copyIdentity(id *session.Identity) *session.Identity {
	cp := *id
	return &cp
}
