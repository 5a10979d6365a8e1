// Package statecache mirrors the live mover, controller and workflow state
// into Redis for dashboards and other cells.
package statecache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"repairedge/controller"
	"repairedge/mover"
	"repairedge/workflow"
)

// DeviceStatus is the cached form of a device poll.
type DeviceStatus[T any] struct {
	Address   string    `json:"address"`
	Status    T         `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Cache struct {
	client  *redis.Client
	station string
	ttl     time.Duration
}

// New wraps an existing client. Device keys expire after ttl so a dead
// station does not leave stale status behind; zero means no expiry.
func New(client *redis.Client, station string, ttl time.Duration) *Cache {
	return &Cache{client: client, station: station, ttl: ttl}
}

// Dial connects and pings. The caller owns Close.
func Dial(ctx context.Context, addr, password string, db int, station string, ttl time.Duration) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return New(client, station, ttl), nil
}

func (c *Cache) Close() error { return c.client.Close() }

func (c *Cache) moverKey() string      { return fmt.Sprintf("repairedge:%s:mover", c.station) }
func (c *Cache) controllerKey() string { return fmt.Sprintf("repairedge:%s:controller", c.station) }
func (c *Cache) workflowKey() string   { return fmt.Sprintf("repairedge:%s:workflow", c.station) }

const stationsKey = "repairedge:stations"

func (c *Cache) SetMoverStatus(ctx context.Context, addr string, st mover.Status) error {
	return c.setJSON(ctx, c.moverKey(), DeviceStatus[mover.Status]{Address: addr, Status: st, UpdatedAt: time.Now()}, c.ttl)
}

// GetMoverStatus returns nil when nothing is cached.
func (c *Cache) GetMoverStatus(ctx context.Context) (*DeviceStatus[mover.Status], error) {
	var v DeviceStatus[mover.Status]
	ok, err := c.getJSON(ctx, c.moverKey(), &v)
	if !ok {
		return nil, err
	}
	return &v, nil
}

func (c *Cache) SetControllerStatus(ctx context.Context, addr string, st controller.Status) error {
	return c.setJSON(ctx, c.controllerKey(), DeviceStatus[controller.Status]{Address: addr, Status: st, UpdatedAt: time.Now()}, c.ttl)
}

func (c *Cache) GetControllerStatus(ctx context.Context) (*DeviceStatus[controller.Status], error) {
	var v DeviceStatus[controller.Status]
	ok, err := c.getJSON(ctx, c.controllerKey(), &v)
	if !ok {
		return nil, err
	}
	return &v, nil
}

// SetWorkflow stores the workflow snapshot without expiry and registers the
// station in the station set.
func (c *Cache) SetWorkflow(ctx context.Context, snap workflow.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	pipe := c.client.Pipeline()
	pipe.Set(ctx, c.workflowKey(), data, 0)
	pipe.SAdd(ctx, stationsKey, c.station)
	_, err = pipe.Exec(ctx)
	return err
}

func (c *Cache) GetWorkflow(ctx context.Context) (*workflow.Snapshot, error) {
	var v workflow.Snapshot
	ok, err := c.getJSON(ctx, c.workflowKey(), &v)
	if !ok {
		return nil, err
	}
	return &v, nil
}

// Stations lists every station that has published a workflow snapshot.
func (c *Cache) Stations(ctx context.Context) ([]string, error) {
	return c.client.SMembers(ctx, stationsKey).Result()
}

// Clear removes this station's keys.
func (c *Cache) Clear(ctx context.Context) error {
	pipe := c.client.Pipeline()
	pipe.Del(ctx, c.moverKey(), c.controllerKey(), c.workflowKey())
	pipe.SRem(ctx, stationsKey, c.station)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *Cache) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

func (c *Cache) getJSON(ctx context.Context, key string, v any) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}
