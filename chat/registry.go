package chat

import (
	"errors"
	"sort"
	"sync"
)

var (
	ErrUsernameTaken    = errors.New("username already in use")
	ErrAlreadyLoggedIn  = errors.New("connection is already logged in")
	ErrConnectionClosed = errors.New("connection is closed")
)

// Registry はセッション一覧です。
// 追加・削除・走査はすべて mu の下で行い、ログイン時の重複チェックと登録も同じロック内で行います。
// ロック順は Registry.mu -> Connection.mu。
type Registry struct {
	mu    sync.Mutex
	conns map[*Connection]struct{}
	users map[string]*Connection
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[*Connection]struct{}),
		users: make(map[string]*Connection),
	}
}

// Add registers a freshly accepted, not yet authenticated connection.
func (r *Registry) Add(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c] = struct{}{}
}

// Login binds username to c if nobody else holds it.
func (r *Registry) Login(c *Connection, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.Username() != "" {
		return ErrAlreadyLoggedIn
	}
	if _, ok := r.conns[c]; !ok {
		return ErrConnectionClosed
	}
	if _, ok := r.users[username]; ok {
		return ErrUsernameTaken
	}
	r.users[username] = c
	c.setUsername(username)
	return nil
}

// Remove は接続を登録から外し、ユーザー名をクリアします。外す前のユーザー名を返します。
func (r *Registry) Remove(c *Connection) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.conns, c)
	name := c.Username()
	if name != "" && r.users[name] == c {
		delete(r.users, name)
	}
	c.setUsername("")
	return name
}

func (r *Registry) Lookup(username string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.users[username]
	return c, ok
}

// Users returns a snapshot of the authenticated connections.
func (r *Registry) Users() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	users := make([]*Connection, 0, len(r.users))
	for _, c := range r.users {
		users = append(users, c)
	}
	return users
}

func (r *Registry) Usernames() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.users))
	for name := range r.users {
		names = append(names, name)
	}
	r.mu.Unlock()
	sort.Strings(names)
	return names
}

// All は未ログインを含む全接続のスナップショットです。
func (r *Registry) All() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]*Connection, 0, len(r.conns))
	for c := range r.conns {
		all = append(all, c)
	}
	return all
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
