// Package di provides a minimal dependency injection container with
// type-safe tokens. Services are registered as instances or lazy factories
// and resolved as singletons.
package di

import (
	"fmt"
	"sync"
)

// ServiceRegistry is the read-only view of the container used by factories
// and modules to resolve dependencies.
type ServiceRegistry interface {
	// Get resolves a service by name. Panics if the service is unknown.
	Get(name string) any
}

// Container extends ServiceRegistry with registration.
type Container interface {
	ServiceRegistry

	// Register stores an already-constructed service instance.
	Register(name string, svc any)

	// RegisterFactory stores a lazy constructor. The factory runs at most
	// once; the result is cached.
	RegisterFactory(name string, factory func(ServiceRegistry) any)
}

// NewContainer creates an empty container.
func NewContainer() Container {
	return &container{
		instances: make(map[string]any),
		factories: make(map[string]func(ServiceRegistry) any),
	}
}

type container struct {
	mu        sync.Mutex
	instances map[string]any
	factories map[string]func(ServiceRegistry) any
	resolving map[string]bool
}

func (c *container) Register(name string, svc any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instances[name] = svc
}

func (c *container) RegisterFactory(name string, factory func(ServiceRegistry) any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[name] = factory
}

func (c *container) Get(name string) any {
	c.mu.Lock()
	if svc, ok := c.instances[name]; ok {
		c.mu.Unlock()
		return svc
	}
	factory, ok := c.factories[name]
	if !ok {
		c.mu.Unlock()
		panic(fmt.Sprintf("di: service %q not registered", name))
	}
	if c.resolving == nil {
		c.resolving = make(map[string]bool)
	}
	if c.resolving[name] {
		c.mu.Unlock()
		panic(fmt.Sprintf("di: circular dependency resolving %q", name))
	}
	c.resolving[name] = true
	c.mu.Unlock()

	svc := factory(c)

	c.mu.Lock()
	c.instances[name] = svc
	delete(c.resolving, name)
	c.mu.Unlock()
	return svc
}

// Token is a type-safe handle for a registered service.
type Token[T any] struct {
	name string
}

// NewToken creates a token with a unique service name.
func NewToken[T any](name string) Token[T] {
	return Token[T]{name: name}
}

// Name returns the underlying service name.
func (t Token[T]) Name() string {
	return t.name
}

// RegisterToken registers a typed factory under the token's name.
func RegisterToken[T any](c Container, token Token[T], factory func(ServiceRegistry) T) {
	c.RegisterFactory(token.name, func(sr ServiceRegistry) any {
		return factory(sr)
	})
}

// GetToken resolves a typed service. Panics if the registered service does
// not match the token's type.
func GetToken[T any](sr ServiceRegistry, token Token[T]) T {
	svc, ok := sr.Get(token.name).(T)
	if !ok {
		panic(fmt.Sprintf("di: service %q has unexpected type", token.name))
	}
	return svc
}
