package vault

import (
	"fmt"
	"sync"

	"github.com/efreitasn/fractionex/internal/domain"
)

// Guard marks keys that are in the middle of an operation crossing the
// custody boundary. Entry points check it and fail with
// domain.ErrReentrantCall instead of blocking on locks the guarded
// operation already holds.
type Guard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewGuard creates an empty Guard.
func NewGuard() *Guard {
	return &Guard{held: make(map[string]struct{})}
}

// Enter claims key. It returns false if the key is already held.
func (g *Guard) Enter(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.held[key]; ok {
		return false
	}
	g.held[key] = struct{}{}
	return true
}

// Leave releases key.
func (g *Guard) Leave(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.held, key)
}

// Held reports whether key is currently claimed.
func (g *Guard) Held(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.held[key]
	return ok
}

// ClassKey is the guard key of a share class.
func ClassKey(classID uint64) string {
	return fmt.Sprintf("class/%d", classID)
}

// AssetKey is the guard key of a custodied asset.
func AssetKey(ref domain.AssetRef) string {
	return "asset/" + ref.String()
}
