/*
Package widget implements the client-side core of the Happy Shopper chat
widget: the gateway API client, the event interpreter, the conversation
state store, the session bootstrap state machine, and the advisor timer
task.

The package is rendering-free. Every user-visible consequence of an agent
event is expressed as an abstract Effect value consumed by a UI adapter,
so the whole relay core can be exercised without any rendering surface.
*/
package widget

import (
	"encoding/json"
	"os"
	"sync"

	"happyshopper/agent"

	"github.com/sirupsen/logrus"
)

// Storage keys. The persistent scope outlives the browser profile; the
// session scope lives for one tab session.
const (
	keyUserID   = "happyShopperUserId"
	keySession  = "happyShopperSessionId"
	keyCartID   = "happyShopperCartId"
	keyProducts = "happyShopperProducts"
	keyChatOpen = "happyShopperChatOpen"
)

// Store is a string key-value storage primitive. Reads fail soft: an
// absent value is reported through the boolean, never an error, and
// callers treat unparsable content as absent.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Delete(key string)
}

// MemoryStore is a mutex-guarded in-memory Store, used for the
// session-scoped state.
type MemoryStore struct {
	values map[string]string
	mutex  sync.RWMutex
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(key string) (string, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	value, ok := m.values[key]
	return value, ok
}

func (m *MemoryStore) Set(key, value string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.values[key] = value
}

func (m *MemoryStore) Delete(key string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.values, key)
}

// FileStore is a JSON-file-backed Store used for the long-lived scope
// (the user identity). The whole map is loaded at construction and
// rewritten on every Set. All failures are soft: an unreadable or corrupt
// file yields an empty store, and write failures are logged and swallowed
// so storage problems never break the chat.
type FileStore struct {
	path   string
	values map[string]string
	mutex  sync.RWMutex
	logger *logrus.Logger
}

// NewFileStore opens (or lazily creates) the store at path.
func NewFileStore(path string, logger *logrus.Logger) *FileStore {
	store := &FileStore{
		path:   path,
		values: make(map[string]string),
		logger: logger,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.WithError(err).WithField("path", path).Warn("Failed to read state file, starting empty")
		}
		return store
	}

	if err := json.Unmarshal(data, &store.values); err != nil {
		logger.WithError(err).WithField("path", path).Warn("State file is corrupt, starting empty")
		store.values = make(map[string]string)
	}
	return store
}

func (f *FileStore) Get(key string) (string, bool) {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	value, ok := f.values[key]
	return value, ok
}

func (f *FileStore) Set(key, value string) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.values[key] = value
	f.persist()
}

func (f *FileStore) Delete(key string) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	delete(f.values, key)
	f.persist()
}

// persist writes the map back to disk. Caller holds the write lock.
func (f *FileStore) persist() {
	data, err := json.Marshal(f.values)
	if err != nil {
		f.logger.WithError(err).Warn("Failed to encode state file")
		return
	}
	if err := os.WriteFile(f.path, data, 0o600); err != nil {
		f.logger.WithError(err).WithField("path", f.path).Warn("Failed to write state file")
	}
}

// State is the conversation state store: typed accessors over the two
// storage scopes. The user identity lives in the persistent scope and is
// never regenerated once set; session id, cart reference, the accumulated
// product set and the chat-open flag live in the session scope.
type State struct {
	persistent Store
	session    Store
	logger     *logrus.Logger
}

// NewState wires the state store over the two scopes.
func NewState(persistent, session Store, logger *logrus.Logger) *State {
	return &State{persistent: persistent, session: session, logger: logger}
}

// UserID returns the stored user identity, or "" when none exists yet.
func (s *State) UserID() string {
	value, _ := s.persistent.Get(keyUserID)
	return value
}

// SetUserID persists the user identity. It refuses to overwrite an
// existing identity: once set, the identity is stable for the lifetime of
// the profile.
func (s *State) SetUserID(userID string) {
	if existing := s.UserID(); existing != "" {
		s.logger.WithField("userID", existing).Warn("Refusing to regenerate existing user identity")
		return
	}
	s.persistent.Set(keyUserID, userID)
}

func (s *State) SessionID() string {
	value, _ := s.session.Get(keySession)
	return value
}

func (s *State) SetSessionID(sessionID string) {
	s.session.Set(keySession, sessionID)
}

func (s *State) CartID() string {
	value, _ := s.session.Get(keyCartID)
	return value
}

func (s *State) SetCartID(cartID string) {
	s.session.Set(keyCartID, cartID)
}

// ChatOpen reports whether the chat window is currently open. The advisor
// task consults this flag before firing.
func (s *State) ChatOpen() bool {
	value, _ := s.session.Get(keyChatOpen)
	return value == "true"
}

func (s *State) SetChatOpen(open bool) {
	if open {
		s.session.Set(keyChatOpen, "true")
	} else {
		s.session.Set(keyChatOpen, "false")
	}
}

// Products returns the accumulated product set in insertion order. An
// absent or unparsable stored value yields an empty slice.
func (s *State) Products() []agent.Product {
	raw, ok := s.session.Get(keyProducts)
	if !ok || raw == "" {
		return nil
	}

	var products []agent.Product
	if err := json.Unmarshal([]byte(raw), &products); err != nil {
		s.logger.WithError(err).Warn("Stored product set is corrupt, treating as empty")
		return nil
	}
	return products
}

// MergeProducts folds newly seen products into the stored set, keyed by
// ProductID. A duplicate key keeps its original position but takes the
// newer value; unseen products append in arrival order. Returns the
// merged set.
func (s *State) MergeProducts(incoming []agent.Product) []agent.Product {
	merged := s.Products()

	index := make(map[string]int, len(merged))
	for i, product := range merged {
		index[product.ProductID] = i
	}

	for _, product := range incoming {
		if product.ProductID == "" {
			continue
		}
		if i, seen := index[product.ProductID]; seen {
			merged[i] = product
			continue
		}
		index[product.ProductID] = len(merged)
		merged = append(merged, product)
	}

	if data, err := json.Marshal(merged); err == nil {
		s.session.Set(keyProducts, string(data))
	} else {
		s.logger.WithError(err).Warn("Failed to encode product set")
	}
	return merged
}
