package asyncmc

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pior/asyncmc/meta"
)

// NoTTL represents an infinite TTL (no expiration).
const NoTTL = 0

type Item struct {
	Key   string
	Value []byte
	TTL   time.Duration
	Found bool // whether the key was found in cache
}

type Querier interface {
	Get(ctx context.Context, key string) (Item, error)
	Set(ctx context.Context, item Item) error
	Add(ctx context.Context, item Item) error
	Delete(ctx context.Context, key string) error
	Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
}

// Executor executes a memcache request.
type Executor interface {
	Execute(ctx context.Context, req *meta.Request) (*meta.Response, error)
}

// BatchExecutor is an optional interface for Executors that support
// efficient pipelined batches.
type BatchExecutor interface {
	Executor
	ExecuteBatch(ctx context.Context, reqs []*meta.Request) ([]*meta.Response, error)
}

// Commands provides memcache operations on top of an Executor. It can be
// used directly on a single Connection, or through Client for pooling and
// resilience.
type Commands struct {
	executor Executor
}

var _ Querier = (*Commands)(nil)

func NewCommands(executor Executor) *Commands {
	return &Commands{executor: executor}
}

// Get retrieves a single item.
func (c *Commands) Get(ctx context.Context, key string) (Item, error) {
	var flags meta.Flags
	flags.Add(meta.FlagReturnValue)

	resp, err := c.executor.Execute(ctx, meta.NewRequest(meta.CmdGet, key, nil, flags))
	if err != nil {
		return Item{}, err
	}

	if resp.IsMiss() {
		return Item{Key: key, Found: false}, nil
	}
	if resp.HasError() {
		return Item{}, resp.Error
	}
	if !resp.IsSuccess() {
		return Item{}, fmt.Errorf("unexpected response status: %s", resp.Status)
	}

	return Item{Key: key, Value: resp.Data, Found: true}, nil
}

// GetMulti retrieves several items in one pipelined batch when the executor
// supports it. The result only contains found keys.
func (c *Commands) GetMulti(ctx context.Context, keys []string) (map[string]Item, error) {
	reqs := make([]*meta.Request, len(keys))
	for i, key := range keys {
		var flags meta.Flags
		flags.Add(meta.FlagReturnValue)
		reqs[i] = meta.NewRequest(meta.CmdGet, key, nil, flags)
	}

	resps, err := c.executeAll(ctx, reqs)
	if err != nil {
		return nil, err
	}

	items := make(map[string]Item, len(keys))
	for i, resp := range resps {
		if resp == nil || resp.IsMiss() || !resp.IsSuccess() {
			continue
		}
		items[keys[i]] = Item{Key: keys[i], Value: resp.Data, Found: true}
	}
	return items, nil
}

// Set stores an item unconditionally.
func (c *Commands) Set(ctx context.Context, item Item) error {
	var flags meta.Flags
	if item.TTL > 0 {
		flags.AddInt(meta.FlagTTL, int64(item.TTL.Seconds()))
	}

	resp, err := c.executor.Execute(ctx, meta.NewRequest(meta.CmdSet, item.Key, item.Value, flags))
	if err != nil {
		return err
	}
	return storeOutcome(resp, "set")
}

// Add stores an item only if the key does not already exist.
// Returns ErrNotStored if the key is present.
func (c *Commands) Add(ctx context.Context, item Item) error {
	var flags meta.Flags
	flags.AddToken(meta.FlagMode, meta.ModeAdd)
	if item.TTL > 0 {
		flags.AddInt(meta.FlagTTL, int64(item.TTL.Seconds()))
	}

	resp, err := c.executor.Execute(ctx, meta.NewRequest(meta.CmdSet, item.Key, item.Value, flags))
	if err != nil {
		return err
	}
	if resp.IsNotStored() || resp.IsMiss() {
		return ErrNotStored
	}
	return storeOutcome(resp, "add")
}

// Delete removes an item. Deleting an absent key is not an error.
func (c *Commands) Delete(ctx context.Context, key string) error {
	resp, err := c.executor.Execute(ctx, meta.NewRequest(meta.CmdDelete, key, nil, nil))
	if err != nil {
		return err
	}
	if resp.HasError() {
		return resp.Error
	}
	if !resp.IsSuccess() && !resp.IsMiss() {
		return fmt.Errorf("delete failed with status: %s", resp.Status)
	}
	return nil
}

// Increment adds delta to a numeric value, creating it at delta with the
// given ttl when absent. Returns the new value.
func (c *Commands) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	var flags meta.Flags
	flags.AddToken(meta.FlagMode, meta.ModeIncrement)
	flags.AddInt(meta.FlagDelta, delta)
	flags.AddInt(meta.FlagInitial, int64(ttl.Seconds()))
	flags.Add(meta.FlagReturnValue)

	resp, err := c.executor.Execute(ctx, meta.NewRequest(meta.CmdArithmetic, key, nil, flags))
	if err != nil {
		return 0, err
	}
	if resp.HasError() {
		return 0, resp.Error
	}
	if resp.IsMiss() {
		return 0, ErrCacheMiss
	}
	if !resp.IsSuccess() {
		return 0, fmt.Errorf("increment failed with status: %s", resp.Status)
	}

	value, err := strconv.ParseInt(string(resp.Data), 10, 64)
	if err != nil {
		return 0, &meta.ParseError{Message: "non-numeric arithmetic result", Err: err}
	}
	return value, nil
}

func (c *Commands) executeAll(ctx context.Context, reqs []*meta.Request) ([]*meta.Response, error) {
	if batcher, ok := c.executor.(BatchExecutor); ok {
		return batcher.ExecuteBatch(ctx, reqs)
	}

	resps := make([]*meta.Response, len(reqs))
	for i, req := range reqs {
		resp, err := c.executor.Execute(ctx, req)
		if err != nil {
			return nil, err
		}
		resps[i] = resp
	}
	return resps, nil
}

func storeOutcome(resp *meta.Response, op string) error {
	if resp.HasError() {
		return resp.Error
	}
	if resp.IsNotStored() {
		return ErrNotStored
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("%s failed with status: %s", op, resp.Status)
	}
	return nil
}
