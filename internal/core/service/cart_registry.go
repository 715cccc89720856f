package service

import (
	"errors"
	"sync"
	"time"

	"github.com/rl1809/pos-sale/internal/core/domain"
)

const defaultCartIdleTTL = 30 * time.Minute

var ErrCartNotFound = errors.New("cart not found")

type cartSession struct {
	mu       sync.Mutex
	cart     *domain.Cart
	lastUsed time.Time // guarded by CartRegistry.mu
}

// CartRegistry keeps the open carts of remote sessions. Each cart is handed to
// one caller at a time. Carts left untouched for longer than the idle TTL are
// dropped.
type CartRegistry struct {
	mu       sync.Mutex
	sessions map[string]*cartSession
	newCart  func() *domain.Cart
	idleTTL  time.Duration
	now      func() time.Time
}

func NewCartRegistry(sales *SaleService, idleTTL time.Duration) *CartRegistry {
	if idleTTL <= 0 {
		idleTTL = defaultCartIdleTTL
	}
	return &CartRegistry{
		sessions: make(map[string]*cartSession),
		newCart:  sales.NewCart,
		idleTTL:  idleTTL,
		now:      time.Now,
	}
}

// Open starts a new empty cart and returns its ID.
func (r *CartRegistry) Open() string {
	cart := r.newCart()
	r.mu.Lock()
	now := r.now()
	r.evictIdleLocked(now)
	r.sessions[cart.ID] = &cartSession{cart: cart, lastUsed: now}
	r.mu.Unlock()
	return cart.ID
}

// With runs fn with exclusive access to the cart.
func (r *CartRegistry) With(id string, fn func(cart *domain.Cart) error) error {
	r.mu.Lock()
	now := r.now()
	sess, ok := r.sessions[id]
	if ok && r.idle(sess, now) {
		delete(r.sessions, id)
		ok = false
	}
	if ok {
		sess.lastUsed = now
	}
	r.mu.Unlock()
	if !ok {
		return ErrCartNotFound
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return fn(sess.cart)
}

func (r *CartRegistry) Close(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

func (r *CartRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *CartRegistry) idle(sess *cartSession, now time.Time) bool {
	return now.Sub(sess.lastUsed) > r.idleTTL
}

func (r *CartRegistry) evictIdleLocked(now time.Time) {
	for id, sess := range r.sessions {
		if r.idle(sess, now) {
			delete(r.sessions, id)
		}
	}
}
