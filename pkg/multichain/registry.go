package multichain

import (
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Registry holds the chain instances by id. Lookups ignore case and
// surrounding whitespace, so "Ethereum" and "ethereum" name the same chain.
type Registry struct {
	mu     sync.RWMutex
	byKey  map[string]*ChainInstance
	logger *zap.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		byKey:  make(map[string]*ChainInstance),
		logger: logger.Named("registry"),
	}
}

func chainKey(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Register adds instance. It fails with ErrChainAlreadyExists when the id is
// taken and ErrInvalidConfig when it is blank.
func (r *Registry) Register(instance *ChainInstance) error {
	key := chainKey(instance.ID)
	if key == "" {
		return ErrInvalidConfig
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byKey[key]; taken {
		return ErrChainAlreadyExists
	}
	r.byKey[key] = instance

	family := "legacy"
	if instance.client != nil {
		family = string(instance.client.Family())
	}
	r.logger.Info("chain registered",
		zap.String("chain", instance.ID),
		zap.String("family", family),
		zap.Int("chains", len(r.byKey)))
	return nil
}

// Unregister removes the chain and hands it back so the caller can close it.
func (r *Registry) Unregister(chainID string) (*ChainInstance, error) {
	key := chainKey(chainID)

	r.mu.Lock()
	defer r.mu.Unlock()
	instance, ok := r.byKey[key]
	if !ok {
		return nil, ErrChainNotFound
	}
	delete(r.byKey, key)

	r.logger.Info("chain unregistered", zap.String("chain", instance.ID))
	return instance, nil
}

// Get looks up a chain.
func (r *Registry) Get(chainID string) (*ChainInstance, error) {
	r.mu.RLock()
	instance, ok := r.byKey[chainKey(chainID)]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrChainNotFound
	}
	return instance, nil
}

// List returns a snapshot of the instances sorted by id.
func (r *Registry) List() []*ChainInstance {
	r.mu.RLock()
	out := make([]*ChainInstance, 0, len(r.byKey))
	for _, instance := range r.byKey {
		out = append(out, instance)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return chainKey(out[i].ID) < chainKey(out[j].ID) })
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKey)
}

func (r *Registry) Exists(chainID string) bool {
	_, err := r.Get(chainID)
	return err == nil
}
