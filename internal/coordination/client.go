// Package coordination wraps the hierarchical coordination service used for
// cross-instance signaling: cancellation requests, ownership handoff and
// retry counters. Nodes are addressed by slash-separated paths and support
// one-shot change notifications.
package coordination

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"gateway/internal/apperrors"
)

// ErrNoNode is returned when a read targets a path that does not exist.
var ErrNoNode = errors.New("node does not exist")

// EventType classifies watch notifications.
type EventType int

const (
	NodeCreated EventType = iota
	NodeDataChanged
	NodeDeleted
)

func (t EventType) String() string {
	switch t {
	case NodeCreated:
		return "created"
	case NodeDataChanged:
		return "dataChanged"
	case NodeDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Event is a single watch notification for a node.
type Event struct {
	Type    EventType
	Path    string
	Payload string
}

// Client is the narrow coordination-service surface the orchestrator uses.
// The watch primitive is one-shot: a registration delivers at most one event
// and must be explicitly re-armed by the caller.
type Client interface {
	CreateNode(ctx context.Context, path, payload string, ephemeral bool) error
	SetNodeData(ctx context.Context, path, payload string) error
	GetNodeData(ctx context.Context, path string) (string, error)
	Exists(ctx context.Context, path string) (bool, error)
	DeleteNode(ctx context.Context, path string, recursive bool) error

	// CompareAndSwap atomically replaces the payload at path if the current
	// payload equals expected. An empty expected means the node must not
	// exist yet. Returns false when the guard did not hold.
	CompareAndSwap(ctx context.Context, path, expected, payload string) (bool, error)

	// WatchOnce registers a one-shot watch on path. The returned channel
	// delivers at most one event and is then closed. Cancel ctx to abandon
	// the registration.
	WatchOnce(ctx context.Context, path string) (<-chan Event, error)

	Close() error
}

// EtcdConfig holds connection settings for the etcd-backed client.
type EtcdConfig struct {
	Endpoints    []string
	DialTimeout  time.Duration // default: 5s
	EphemeralTTL time.Duration // lease TTL for ephemeral nodes, default: 30s
}

func (c EtcdConfig) withDefaults() EtcdConfig {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.EphemeralTTL <= 0 {
		c.EphemeralTTL = 30 * time.Second
	}
	return c
}

// EtcdClient implements Client on top of etcd. Ephemeral nodes are attached
// to a single keep-alive lease so they vanish when this instance dies.
type EtcdClient struct {
	cli    *clientv3.Client
	config EtcdConfig
	logger *slog.Logger

	mu      sync.Mutex
	leaseID clientv3.LeaseID
}

// NewEtcd connects to the coordination service.
func NewEtcd(cfg EtcdConfig) (*EtcdClient, error) {
	cfg = cfg.withDefaults()

	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, apperrors.CoordinationUnavailable("coordination.connect", err)
	}

	return &EtcdClient{
		cli:    cli,
		config: cfg,
		logger: slog.With("component", "coordination"),
	}, nil
}

// CreateNode writes payload at path. An ephemeral node is tied to this
// instance's lease and disappears when the instance stops renewing it.
func (c *EtcdClient) CreateNode(ctx context.Context, path, payload string, ephemeral bool) error {
	var opts []clientv3.OpOption
	if ephemeral {
		leaseID, err := c.lease(ctx)
		if err != nil {
			return err
		}
		opts = append(opts, clientv3.WithLease(leaseID))
	}

	if _, err := c.cli.Put(ctx, path, payload, opts...); err != nil {
		return apperrors.CoordinationUnavailable("coordination.createNode", err)
	}
	return nil
}

// SetNodeData overwrites the payload at path, creating the node if absent.
func (c *EtcdClient) SetNodeData(ctx context.Context, path, payload string) error {
	if _, err := c.cli.Put(ctx, path, payload); err != nil {
		return apperrors.CoordinationUnavailable("coordination.setNodeData", err)
	}
	return nil
}

// GetNodeData reads the payload at path. Returns ErrNoNode if absent.
func (c *EtcdClient) GetNodeData(ctx context.Context, path string) (string, error) {
	resp, err := c.cli.Get(ctx, path)
	if err != nil {
		return "", apperrors.CoordinationUnavailable("coordination.getNodeData", err)
	}
	if len(resp.Kvs) == 0 {
		return "", ErrNoNode
	}
	return string(resp.Kvs[0].Value), nil
}

// Exists reports whether a node is present at path.
func (c *EtcdClient) Exists(ctx context.Context, path string) (bool, error) {
	resp, err := c.cli.Get(ctx, path, clientv3.WithCountOnly())
	if err != nil {
		return false, apperrors.CoordinationUnavailable("coordination.exists", err)
	}
	return resp.Count > 0, nil
}

// DeleteNode removes the node at path; with recursive it removes the whole
// subtree under path. Deleting an absent node is not an error.
func (c *EtcdClient) DeleteNode(ctx context.Context, path string, recursive bool) error {
	var opts []clientv3.OpOption
	if recursive {
		opts = append(opts, clientv3.WithPrefix())
	}
	if _, err := c.cli.Delete(ctx, path, opts...); err != nil {
		return apperrors.CoordinationUnavailable("coordination.deleteNode", err)
	}
	return nil
}

// CompareAndSwap performs a single versioned write guarded by the node's
// current payload. This replaces the delete-then-create counter updates that
// would otherwise race under concurrent writers.
func (c *EtcdClient) CompareAndSwap(ctx context.Context, path, expected, payload string) (bool, error) {
	var guard clientv3.Cmp
	if expected == "" {
		guard = clientv3.Compare(clientv3.CreateRevision(path), "=", 0)
	} else {
		guard = clientv3.Compare(clientv3.Value(path), "=", expected)
	}

	resp, err := c.cli.Txn(ctx).If(guard).Then(clientv3.OpPut(path, payload)).Commit()
	if err != nil {
		return false, apperrors.CoordinationUnavailable("coordination.compareAndSwap", err)
	}
	return resp.Succeeded, nil
}

// WatchOnce registers a one-shot watch on path. The first change observed
// after registration is delivered and the registration ends.
func (c *EtcdClient) WatchOnce(ctx context.Context, path string) (<-chan Event, error) {
	watchCtx, cancel := context.WithCancel(ctx)
	wch := c.cli.Watch(watchCtx, path)

	out := make(chan Event, 1)
	go func() {
		defer cancel()
		defer close(out)

		for resp := range wch {
			if err := resp.Err(); err != nil {
				c.logger.Warn("Watch aborted", "path", path, "error", err)
				return
			}
			for _, ev := range resp.Events {
				out <- translateEvent(path, ev)
				return
			}
		}
	}()

	return out, nil
}

// Close releases the lease (expiring this instance's ephemeral nodes) and
// closes the connection.
func (c *EtcdClient) Close() error {
	c.mu.Lock()
	leaseID := c.leaseID
	c.mu.Unlock()

	if leaseID != 0 {
		ctx, cancel := context.WithTimeout(context.Background(), c.config.DialTimeout)
		defer cancel()
		if _, err := c.cli.Revoke(ctx, leaseID); err != nil {
			c.logger.Warn("Lease revoke failed", "error", err)
		}
	}
	return c.cli.Close()
}

// lease lazily grants the instance lease and keeps it alive in the background.
func (c *EtcdClient) lease(ctx context.Context) (clientv3.LeaseID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.leaseID != 0 {
		return c.leaseID, nil
	}

	grant, err := c.cli.Grant(ctx, int64(c.config.EphemeralTTL.Seconds()))
	if err != nil {
		return 0, apperrors.CoordinationUnavailable("coordination.grantLease", err)
	}

	keepAlive, err := c.cli.KeepAlive(context.Background(), grant.ID)
	if err != nil {
		return 0, apperrors.CoordinationUnavailable("coordination.keepAlive", err)
	}
	go func() {
		for range keepAlive {
			// Drain keep-alive responses until the lease or client goes away.
		}
		c.logger.Warn("Lease keep-alive channel closed")
	}()

	c.leaseID = grant.ID
	return grant.ID, nil
}

func translateEvent(path string, ev *clientv3.Event) Event {
	switch {
	case ev.Type == clientv3.EventTypeDelete:
		return Event{Type: NodeDeleted, Path: path}
	case ev.IsCreate():
		return Event{Type: NodeCreated, Path: path, Payload: string(ev.Kv.Value)}
	default:
		return Event{Type: NodeDataChanged, Path: path, Payload: string(ev.Kv.Value)}
	}
}
