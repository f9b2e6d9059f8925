package vectorstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/qdrant/go-client/qdrant"
)

// CollectionManager creates the Qdrant collection on first use and
// remembers that it exists.
type CollectionManager struct {
	client pointsClient
	name   string
	ready  bool
	mu     sync.Mutex
}

func NewCollectionManager(client pointsClient, name string) *CollectionManager {
	return &CollectionManager{client: client, name: name}
}

// Ensure creates the collection sized for dim if it does not already exist.
func (m *CollectionManager) Ensure(ctx context.Context, dim int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ready {
		return m.name, nil
	}

	exists, err := m.client.CollectionExists(ctx, m.name)
	if err != nil {
		return "", fmt.Errorf("check collection %s: %w", m.name, err)
	}
	if !exists {
		err := m.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: m.name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return "", fmt.Errorf("create collection %s: %w", m.name, err)
		}
	}

	m.ready = true
	return m.name, nil
}

// Exists reports whether the collection is known to exist, checking the
// server when it has not been created by this process.
func (m *CollectionManager) Exists(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ready {
		return true, nil
	}
	ok, err := m.client.CollectionExists(ctx, m.name)
	if err != nil {
		return false, fmt.Errorf("check collection %s: %w", m.name, err)
	}
	m.ready = ok
	return ok, nil
}
