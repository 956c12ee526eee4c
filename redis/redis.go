package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"anchorebridge/ledger"
	"anchorebridge/types"

	"github.com/gomodule/redigo/redis"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

func timeoutDialOptions() []redis.DialOption {
	return []redis.DialOption{
		redis.DialConnectTimeout(5 * time.Second),
		redis.DialReadTimeout(5 * time.Second),
		redis.DialWriteTimeout(5 * time.Second),
	}
}

func NewPool(addr string) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     5,
		IdleTimeout: 240 * time.Second,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return redis.DialContext(ctx, "tcp", addr, timeoutDialOptions()...)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
}

var statusSets = map[types.ReleaseStatus]string{
	types.StatusPending:    "releases:pending",    // intent written, deploy not accepted yet
	types.StatusDispatched: "releases:dispatched", // release deploy accepted by the node
	types.StatusConfirmed:  "releases:confirmed",  // release deploy executed
	types.StatusFailed:     "releases:failed",     // needs an operator
}

func recordKey(nonce string) string {
	return fmt.Sprintf("release:%s", nonce)
}

func cursorKey(chainID uint64) string {
	return fmt.Sprintf("chainBlockScanned:%d", chainID)
}

// Store keeps release records as JSON under release:<nonce> with the nonce
// also listed in the set of its status. Implements ledger.Store and ledger.Cursor.
type Store struct {
	pool *redis.Pool
	now  func() time.Time
}

func NewStore(pool *redis.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

func (s *Store) Ping(ctx context.Context) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = redis.DoContext(conn, ctx, "PING")
	return err
}

func (s *Store) Get(ctx context.Context, nonce string) (types.ReleaseRecord, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return types.ReleaseRecord{}, errors.Wrap(err, "redis connection")
	}
	defer conn.Close()
	return getRecord(ctx, conn, nonce)
}

func getRecord(ctx context.Context, conn redis.Conn, nonce string) (types.ReleaseRecord, error) {
	raw, err := redis.Bytes(redis.DoContext(conn, ctx, "GET", recordKey(nonce)))
	if errors.Is(err, redis.ErrNil) {
		return types.ReleaseRecord{}, ledger.ErrNotFound
	}
	if err != nil {
		log.Error().Err(err).Msg("error Redis GET")
		return types.ReleaseRecord{}, errors.Wrapf(err, "get release %s", nonce)
	}
	var rec types.ReleaseRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return types.ReleaseRecord{}, errors.Wrapf(err, "decode release %s", nonce)
	}
	return rec, nil
}

// CreatePending relies on SET NX, so two relays racing on one nonce get one winner
func (s *Store) CreatePending(ctx context.Context, rec types.ReleaseRecord) (types.ReleaseRecord, bool, error) {
	rec, err := ledger.PrepareNew(rec, s.now())
	if err != nil {
		return types.ReleaseRecord{}, false, err
	}
	recJSON, err := json.Marshal(rec)
	if err != nil {
		return types.ReleaseRecord{}, false, errors.Wrap(err, "cannot marshal release record to JSON")
	}

	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return types.ReleaseRecord{}, false, errors.Wrap(err, "redis connection")
	}
	defer conn.Close()

	reply, err := redis.DoContext(conn, ctx, "SET", recordKey(rec.Nonce), recJSON, "NX")
	if err != nil {
		log.Error().Err(err).Msg("error Redis SET NX")
		return types.ReleaseRecord{}, false, errors.Wrapf(err, "create release %s", rec.Nonce)
	}
	if reply == nil {
		existing, err := getRecord(ctx, conn, rec.Nonce)
		return existing, false, err
	}

	// the record is the source of truth, the set only indexes it
	if _, err := redis.DoContext(conn, ctx, "SADD", statusSets[types.StatusPending], rec.Nonce); err != nil {
		log.Error().Err(err).Msg("error Redis SADD")
		return rec, true, errors.Wrapf(err, "index release %s", rec.Nonce)
	}
	return rec, true, nil
}

// Update is a WATCH/MULTI compare-and-set on the stored status
func (s *Store) Update(ctx context.Context, rec types.ReleaseRecord, prev types.ReleaseStatus) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return errors.Wrap(err, "redis connection")
	}
	defer conn.Close()

	key := recordKey(rec.Nonce)
	if _, err := redis.DoContext(conn, ctx, "WATCH", key); err != nil {
		return errors.Wrap(err, "watch release")
	}
	defer redis.DoContext(conn, ctx, "UNWATCH")

	current, err := getRecord(ctx, conn, rec.Nonce)
	if err != nil {
		return err
	}
	if err := ledger.CheckUpdate(current, rec, prev); err != nil {
		return err
	}

	rec.TsUpdated = s.now().Unix()
	recJSON, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "cannot marshal release record to JSON")
	}

	if err := conn.Send("MULTI"); err != nil {
		return err
	}
	_ = conn.Send("SET", key, recJSON)
	if prev != rec.Status {
		_ = conn.Send("SREM", statusSets[prev], rec.Nonce)
		_ = conn.Send("SADD", statusSets[rec.Status], rec.Nonce)
	}
	reply, err := redis.DoContext(conn, ctx, "EXEC")
	if err != nil {
		log.Error().Err(err).Msg("error Redis EXEC")
		return errors.Wrapf(err, "update release %s", rec.Nonce)
	}
	if reply == nil {
		return errors.Wrapf(ledger.ErrInvalidTransition, "release %s changed concurrently", rec.Nonce)
	}
	return nil
}

// ListByStatus walks the status set. Nonces whose record is missing or has
// moved on are skipped.
func (s *Store) ListByStatus(ctx context.Context, status types.ReleaseStatus) ([]types.ReleaseRecord, error) {
	set, ok := statusSets[status]
	if !ok {
		return nil, errors.Errorf("redis key not found for status %q", status)
	}

	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "redis connection")
	}
	defer conn.Close()

	out := make([]types.ReleaseRecord, 0)
	var cursor int64
	for {
		values, err := redis.Values(redis.DoContext(conn, ctx, "SSCAN", set, cursor))
		if err != nil {
			return nil, err
		}
		var nonces []string
		if _, err := redis.Scan(values, &cursor, &nonces); err != nil {
			return nil, err
		}

		for _, nonce := range nonces {
			rec, err := getRecord(ctx, conn, nonce)
			if errors.Is(err, ledger.ErrNotFound) {
				log.Warn().Str("nonce", nonce).Str("set", set).Msg("indexed release record is missing")
				continue
			}
			if err != nil {
				return nil, err
			}
			if rec.Status == status {
				out = append(out, rec)
			}
		}

		if cursor == 0 {
			break
		}
	}
	return out, nil
}

func (s *Store) ScannedBlock(ctx context.Context, chainID uint64) (uint64, bool, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return 0, false, errors.Wrap(err, "redis connection")
	}
	defer conn.Close()

	height, err := redis.Uint64(redis.DoContext(conn, ctx, "GET", cursorKey(chainID)))
	if errors.Is(err, redis.ErrNil) {
		return 0, false, nil
	}
	if err != nil {
		log.Error().Err(err).Msg("error Redis GET")
		return 0, false, err
	}
	return height, true, nil
}

func (s *Store) SetScannedBlock(ctx context.Context, chainID uint64, height uint64) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return errors.Wrap(err, "redis connection")
	}
	defer conn.Close()

	if _, err := redis.DoContext(conn, ctx, "SET", cursorKey(chainID), height); err != nil {
		log.Error().Err(err).Msg("error Redis SET")
		return err
	}
	return nil
}

var (
	_ ledger.Store  = (*Store)(nil)
	_ ledger.Cursor = (*Store)(nil)
)
