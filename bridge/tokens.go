package bridge

import (
	"sync"
)

// Token is the opaque self-reference passed to the engine as callback user data.
// Tokens are never reused, so a stale token cannot resolve to a newer Handle.
type Token uintptr

type tokenTable struct {
	handles map[Token]*Handle
	mu      sync.RWMutex
	next    Token
}

var tokens = &tokenTable{handles: make(map[Token]*Handle)}

func (t *tokenTable) insert(h *Handle) Token {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	t.handles[t.next] = h
	return t.next
}

func (t *tokenTable) lookup(tok Token) (*Handle, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.handles[tok]
	return h, ok
}

func (t *tokenTable) remove(tok Token) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handles, tok)
}

func (t *tokenTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.handles)
}

// LiveTokens returns the number of registered self-reference tokens across the process.
func LiveTokens() int {
	return tokens.len()
}
