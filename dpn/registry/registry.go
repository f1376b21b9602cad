package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"github.com/APTrust/dpn-registry/dpn/models"
	"github.com/APTrust/dpn-registry/util/storage"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/crypto/bcrypt"
	"time"
)

const DEFAULT_CACHE_TTL = 5 * time.Minute

var (
	// ErrAuthenticationFailed means the credential matches no node.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrNodeExists means a node with the same namespace is
	// already registered.
	ErrNodeExists = errors.New("node already exists")

	// ErrLocalNode means the operation would remove this
	// deployment's own node.
	ErrLocalNode = errors.New("cannot remove the local node")
)

// NodeStore persists node records. storage.BoltDB and
// storage.Postgres both satisfy it.
type NodeStore interface {
	CreateNode(ctx context.Context, node *models.Node) error
	SaveNode(ctx context.Context, node *models.Node) error
	GetNode(ctx context.Context, namespace string) (*models.Node, error)
	DeleteNode(ctx context.Context, namespace string) error
	ListNodes(ctx context.Context) ([]*models.Node, error)
}

// Registry maps node namespaces to nodes and credentials to the
// nodes that hold them. It knows which node is local, and that
// never changes for the life of the process.
type Registry struct {
	store NodeStore
	local *models.Node
	cache *gocache.Cache
	cost  int
}

// NewRegistry loads the local node from store. It fails if
// localNamespace is empty or not registered, since nothing can
// be authorized without knowing who we are.
func NewRegistry(ctx context.Context, store NodeStore, localNamespace string, cacheTTL time.Duration, cost int) (*Registry, error) {
	namespace := models.NormalizeNamespace(localNamespace)
	if namespace == "" {
		return nil, fmt.Errorf("Local node namespace is not configured")
	}
	local, err := store.GetNode(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("Local node '%s' is not in the registry: %w", namespace, err)
	}
	if cacheTTL <= 0 {
		cacheTTL = DEFAULT_CACHE_TTL
	}
	return &Registry{
		store: store,
		local: local,
		cache: gocache.New(cacheTTL, 2*cacheTTL),
		cost:  cost,
	}, nil
}

// LocalNode returns this deployment's own node.
func (registry *Registry) LocalNode() *models.Node {
	return registry.local
}

// Resolve returns the node whose token is credential. Resolved
// tokens are cached by digest, so bcrypt runs only on a miss.
func (registry *Registry) Resolve(ctx context.Context, credential string) (*models.Node, error) {
	if credential == "" {
		return nil, ErrAuthenticationFailed
	}
	key := tokenDigest(credential)
	if namespace, found := registry.cache.Get(key); found {
		node, err := registry.store.GetNode(ctx, namespace.(string))
		if err == nil {
			return node, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		registry.cache.Delete(key)
	}
	nodes, err := registry.store.ListNodes(ctx)
	if err != nil {
		return nil, err
	}
	for _, node := range nodes {
		if len(node.AuthTokenHash) == 0 {
			continue
		}
		if bcrypt.CompareHashAndPassword(node.AuthTokenHash, []byte(credential)) == nil {
			registry.cache.SetDefault(key, node.Namespace)
			return node, nil
		}
	}
	return nil, ErrAuthenticationFailed
}

// GetNode returns the node with the specified namespace. The
// namespace is normalized first.
func (registry *Registry) GetNode(ctx context.Context, namespace string) (*models.Node, error) {
	return registry.store.GetNode(ctx, models.NormalizeNamespace(namespace))
}

// ListNodes returns all registered nodes, ordered by namespace.
func (registry *Registry) ListNodes(ctx context.Context) ([]*models.Node, error) {
	return registry.store.ListNodes(ctx)
}

// AddNode registers a new node that authenticates with token.
func (registry *Registry) AddNode(ctx context.Context, node *models.Node, token string) error {
	return CreateNode(ctx, registry.store, node, token, registry.cost)
}

// DeleteNode removes a node. The local node cannot be removed.
func (registry *Registry) DeleteNode(ctx context.Context, namespace string) error {
	namespace = models.NormalizeNamespace(namespace)
	if namespace == registry.local.Namespace {
		return fmt.Errorf("Node %s: %w", namespace, ErrLocalNode)
	}
	if err := registry.store.DeleteNode(ctx, namespace); err != nil {
		return err
	}
	registry.cache.Flush()
	return nil
}

// UpdateLastPullDate records when we last pulled from a node.
func (registry *Registry) UpdateLastPullDate(ctx context.Context, namespace string, pulled time.Time) error {
	node, err := registry.GetNode(ctx, namespace)
	if err != nil {
		return err
	}
	node.LastPullDate = pulled.UTC()
	return registry.store.SaveNode(ctx, node)
}

// CreateNode normalizes and validates the node's namespace, stores
// a bcrypt hash of token, and saves the node. The registry itself
// can't exist until the local node has been saved this way.
// A cost of zero means bcrypt.DefaultCost.
func CreateNode(ctx context.Context, store NodeStore, node *models.Node, token string, cost int) error {
	node.Namespace = models.NormalizeNamespace(node.Namespace)
	if err := models.ValidateNamespace(node.Namespace); err != nil {
		return err
	}
	if token != "" {
		if cost == 0 {
			cost = bcrypt.DefaultCost
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(token), cost)
		if err != nil {
			return fmt.Errorf("Cannot hash token for node %s: %v", node.Namespace, err)
		}
		node.AuthTokenHash = hash
	}
	now := time.Now().UTC()
	if node.CreatedAt.IsZero() {
		node.CreatedAt = now
	}
	if node.UpdatedAt.IsZero() {
		node.UpdatedAt = now
	}
	err := store.CreateNode(ctx, node)
	if errors.Is(err, storage.ErrConflict) {
		return fmt.Errorf("Node %s: %w", node.Namespace, ErrNodeExists)
	}
	return err
}

func tokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
