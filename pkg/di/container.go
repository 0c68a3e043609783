// Package di provides dependency injection container
package di

import (
	"github.com/ssargent/yggdrasil/pkg/btree"
	"github.com/ssargent/yggdrasil/pkg/docstore"
	"github.com/ssargent/yggdrasil/pkg/index"
)

// StoreFactory opens the document store backing the index.
type StoreFactory interface {
	// Open returns a store rooted at dataDir; an empty dataDir means
	// a transient in-memory store.
	Open(dataDir string) (docstore.Store, error)
}

// Container holds all the dependencies for the application
type Container struct {
	storeFactory StoreFactory
}

// NewContainer creates a new dependency injection container
func NewContainer() *Container {
	return &Container{
		storeFactory: defaultStoreFactory{},
	}
}

// OpenService opens the store and binds the index service to it.
func (c *Container) OpenService(dataDir string) (*index.Service, docstore.Store, error) {
	store, err := c.storeFactory.Open(dataDir)
	if err != nil {
		return nil, nil, err
	}
	return index.New(store), store, nil
}

// SetStoreFactory allows overriding the store factory (for testing)
func (c *Container) SetStoreFactory(factory StoreFactory) {
	c.storeFactory = factory
}

type defaultStoreFactory struct{}

func (defaultStoreFactory) Open(dataDir string) (docstore.Store, error) {
	if dataDir == "" {
		return docstore.NewMemory(btree.StoreIndexes()...), nil
	}
	return docstore.OpenPebble(dataDir, btree.StoreIndexes()...)
}
