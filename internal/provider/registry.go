package provider

import (
	"fmt"
	"sync"
)

// Registry 生成器注册表
type Registry struct {
	mu         sync.RWMutex
	generators map[string]Generator
}

var globalRegistry = &Registry{
	generators: make(map[string]Generator),
}

// Register 注册生成器
func Register(g Generator) {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	globalRegistry.generators[g.Name()] = g
}

// Get 获取生成器
func Get(name string) (Generator, error) {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()
	g, ok := globalRegistry.generators[name]
	if !ok {
		return nil, fmt.Errorf("generator not found: %s", name)
	}
	return g, nil
}

// List 列出所有已注册的生成器名称
func List() []string {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()
	names := make([]string, 0, len(globalRegistry.generators))
	for name := range globalRegistry.generators {
		names = append(names, name)
	}
	return names
}
