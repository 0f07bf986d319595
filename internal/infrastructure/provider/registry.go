package provider

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"gasfeed/internal/application/port"
	"gasfeed/internal/domain"
)

// Factory 根据配置构造一个上游
type Factory func(cfg Config) (port.Provider, error)

var (
	mu       sync.RWMutex
	registry = make(map[string]Factory)
)

// Register 注册一种上游类型的 factory
// 由本包各实现文件的 init() 调用
func Register(kind string, factory Factory) {
	if factory == nil {
		log.Warn().Str("kind", kind).Msg("invalid provider factory")
		return
	}
	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[kind]; exists {
		log.Warn().Str("kind", kind).Msg("provider factory already registered, overwriting")
	}
	registry[kind] = factory
}

// Get 获取已注册的 factory
func Get(kind string) (Factory, bool) {
	mu.RLock()
	defer mu.RUnlock()
	factory, ok := registry[kind]
	return factory, ok
}

// Kinds 返回已注册的类型（排序）
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New 按 cfg.Kind 构造上游
func New(cfg Config) (port.Provider, error) {
	factory, ok := Get(cfg.Kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", domain.ErrUnknownProviderKind, cfg.Kind, Kinds())
	}
	p, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", cfg.Name, err)
	}
	return p, nil
}
