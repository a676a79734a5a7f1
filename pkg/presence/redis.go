package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	connsKeyPrefix     = "presence:conns:"     // HASH connectionID -> json(Connection)
	podConnsKeyPrefix  = "presence:pod_conns:" // SET "userID|connectionID"
	podHeartbeatPrefix = "presence:pod_hb:"    // STRING RFC3339 timestamp
	knownPodsKey       = "presence:pods"       // SET of pod names
)

// RedisStore is the production Store backed by go-redis/v9, holding the
// presence regions enumerated in §3 as plain hashes/sets/strings rather
// than a bespoke binary format — any operator tooling (redis-cli) can
// inspect it directly.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore dials addr with the given entry TTL (applied to the
// per-user connection hash so an ungracefully-killed pod's entries expire
// even without the stale-pod reaper running).
func NewRedisStore(addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connect to presence redis: %w", err)
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Register(ctx context.Context, userID string, conn Connection) error {
	data, err := json.Marshal(conn)
	if err != nil {
		return fmt.Errorf("marshal connection: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, connsKeyPrefix+userID, conn.ConnectionID, data)
	pipe.Expire(ctx, connsKeyPrefix+userID, s.ttl)
	pipe.SAdd(ctx, podConnsKeyPrefix+conn.PodName, userID+"|"+conn.ConnectionID)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("register connection: %w", err)
	}
	return nil
}

func (s *RedisStore) Unregister(ctx context.Context, userID, connectionID string) error {
	conn, err := s.getOne(ctx, userID, connectionID)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.HDel(ctx, connsKeyPrefix+userID, connectionID)
	if conn != nil {
		pipe.SRem(ctx, podConnsKeyPrefix+conn.PodName, userID+"|"+connectionID)
	}
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("unregister connection: %w", err)
	}
	return nil
}

func (s *RedisStore) getOne(ctx context.Context, userID, connectionID string) (*Connection, error) {
	raw, err := s.client.HGet(ctx, connsKeyPrefix+userID, connectionID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get connection: %w", err)
	}
	var c Connection
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("unmarshal connection: %w", err)
	}
	return &c, nil
}

func (s *RedisStore) Connections(ctx context.Context, userID string) ([]Connection, error) {
	raw, err := s.client.HGetAll(ctx, connsKeyPrefix+userID).Result()
	if err != nil {
		return nil, fmt.Errorf("get connections: %w", err)
	}
	out := make([]Connection, 0, len(raw))
	for _, v := range raw {
		var c Connection
		if err := json.Unmarshal([]byte(v), &c); err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *RedisStore) ConnectionCount(ctx context.Context, userID string) (int, error) {
	n, err := s.client.HLen(ctx, connsKeyPrefix+userID).Result()
	if err != nil {
		return 0, fmt.Errorf("count connections: %w", err)
	}
	return int(n), nil
}

func (s *RedisStore) Heartbeat(ctx context.Context, userID string, connectionIDs []string, at time.Time) error {
	if len(connectionIDs) == 0 {
		return nil
	}
	conns, err := s.Connections(ctx, userID)
	if err != nil {
		return err
	}
	byID := make(map[string]Connection, len(conns))
	for _, c := range conns {
		byID[c.ConnectionID] = c
	}

	pipe := s.client.TxPipeline()
	touched := false
	for _, id := range connectionIDs {
		c, ok := byID[id]
		if !ok {
			continue
		}
		c.LastHeartbeat = at
		data, err := json.Marshal(c)
		if err != nil {
			continue
		}
		pipe.HSet(ctx, connsKeyPrefix+userID, id, data)
		touched = true
	}
	if !touched {
		return nil
	}
	pipe.Expire(ctx, connsKeyPrefix+userID, s.ttl)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

func (s *RedisStore) PodHeartbeat(ctx context.Context, podName string, at time.Time) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, podHeartbeatPrefix+podName, at.Format(time.RFC3339Nano), 0)
	pipe.SAdd(ctx, knownPodsKey, podName)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("pod heartbeat: %w", err)
	}
	return nil
}

func (s *RedisStore) StalePods(ctx context.Context, threshold time.Duration) ([]string, error) {
	pods, err := s.client.SMembers(ctx, knownPodsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list known pods: %w", err)
	}
	now := time.Now()
	var stale []string
	for _, pod := range pods {
		raw, err := s.client.Get(ctx, podHeartbeatPrefix+pod).Result()
		if err == redis.Nil {
			stale = append(stale, pod)
			continue
		}
		if err != nil {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil || now.Sub(ts) >= threshold {
			stale = append(stale, pod)
		}
	}
	known := make(map[string]bool, len(pods))
	for _, pod := range pods {
		known[pod] = true
	}
	owned, err := s.client.Keys(ctx, podConnsKeyPrefix+"*").Result()
	if err != nil {
		return nil, fmt.Errorf("list pod connection sets: %w", err)
	}
	for _, key := range owned {
		if pod := strings.TrimPrefix(key, podConnsKeyPrefix); !known[pod] {
			stale = append(stale, pod)
		}
	}
	return stale, nil
}

func (s *RedisStore) OwnedConnections(ctx context.Context, podName string) ([]OwnedConnection, error) {
	members, err := s.client.SMembers(ctx, podConnsKeyPrefix+podName).Result()
	if err != nil {
		return nil, fmt.Errorf("list owned connections: %w", err)
	}
	out := make([]OwnedConnection, 0, len(members))
	for _, m := range members {
		parts := strings.SplitN(m, "|", 2)
		if len(parts) != 2 {
			continue
		}
		out = append(out, OwnedConnection{UserID: parts[0], ConnectionID: parts[1]})
	}
	return out, nil
}

func (s *RedisStore) RemovePod(ctx context.Context, podName string) error {
	owned, err := s.OwnedConnections(ctx, podName)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	for _, oc := range owned {
		pipe.HDel(ctx, connsKeyPrefix+oc.UserID, oc.ConnectionID)
	}
	pipe.Del(ctx, podConnsKeyPrefix+podName)
	pipe.Del(ctx, podHeartbeatPrefix+podName)
	pipe.SRem(ctx, knownPodsKey, podName)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("remove pod: %w", err)
	}
	return nil
}
