// Package leaderelection runs the scheduler, reconciler and rule file watcher
// on a single instance, chosen by a Postgres session-scoped advisory lock.
//
// The lock lives as long as the dedicated connection that took it. There is
// no TTL and nothing to renew: if the connection dies, Postgres releases the
// lock server-side. The heartbeat only notices local connection death so the
// leader stops its duties promptly.
package leaderelection

import (
	"context"
	"database/sql"
	"hash/fnv"
	"log"
	"sync/atomic"
	"time"
)

// Reasons reported to LeaderLost.
const (
	ReasonShutdown = "shutdown"
	ReasonConnLost = "conn_lost"
)

// unlockTimeout bounds the explicit unlock on a clean release.
const unlockTimeout = 2 * time.Second

// LockKeyFor derives a stable advisory lock key from a deployment name, so
// several deployments can share one database without contending.
func LockKeyFor(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return int64(h.Sum64())
}

// MetricsSink defines the interface for recording leader election metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}

// session is one dedicated connection that can hold the lock.
type session interface {
	TryLock(ctx context.Context, key int64) (bool, error)
	Unlock(ctx context.Context, key int64) error
	Ping(ctx context.Context) error
	Close() error
}

type Elector struct {
	open              func(ctx context.Context) (session, error)
	lockKey           int64
	retryInterval     time.Duration
	heartbeatInterval time.Duration
	onElected         func(ctx context.Context)
	onDemoted         func()
	metrics           MetricsSink // optional, nil = disabled
	leader            atomic.Bool
}

// New creates an Elector over db.
//
// onElected runs in its own goroutine once the lock is taken; its context is
// cancelled when leadership ends. It should start the leader duties and
// return.
//
// onDemoted runs synchronously after leadership ends and must block until
// the duties have stopped. It must be idempotent.
func New(
	db *sql.DB,
	lockKey int64,
	retryInterval, heartbeatInterval time.Duration,
	onElected func(ctx context.Context),
	onDemoted func(),
) *Elector {
	return &Elector{
		open: func(ctx context.Context) (session, error) {
			conn, err := db.Conn(ctx)
			if err != nil {
				return nil, err
			}
			return pgSession{conn: conn}, nil
		},
		lockKey:           lockKey,
		retryInterval:     retryInterval,
		heartbeatInterval: heartbeatInterval,
		onElected:         onElected,
		onDemoted:         onDemoted,
	}
}

// IsLeader reports whether this instance currently holds the lock.
func (e *Elector) IsLeader() bool {
	return e.leader.Load()
}

func (e *Elector) WithMetrics(sink MetricsSink) *Elector {
	e.metrics = sink
	return e
}

// Run campaigns for the lock until ctx is cancelled. A follower retries every
// retryInterval; a leader that loses its connection goes back to campaigning.
func (e *Elector) Run(ctx context.Context) {
	log.Printf("leader: campaigning lock_key=%d retry=%s heartbeat=%s",
		e.lockKey, e.retryInterval, e.heartbeatInterval)
	defer log.Println("leader: election loop stopped")

	for ctx.Err() == nil {
		if reason := e.campaign(ctx); reason != "" && ctx.Err() == nil {
			log.Printf("leader: lost leadership reason=%s, retrying in %s", reason, e.retryInterval)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(e.retryInterval):
		}
	}
}

// campaign makes one attempt at the lock and, if it wins, holds it until the
// connection dies or ctx ends. It returns why leadership ended, or "" if the
// lock was never taken.
func (e *Elector) campaign(ctx context.Context) string {
	s, err := e.open(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("leader: dedicated connection: %v", err)
		}
		return ""
	}
	defer s.Close()

	acquired, err := s.TryLock(ctx, e.lockKey)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("leader: lock attempt lock_key=%d: %v", e.lockKey, err)
		}
		return ""
	}
	if !acquired {
		return ""
	}

	log.Printf("leader: elected lock_key=%d", e.lockKey)
	e.setLeader(true)
	if e.metrics != nil {
		e.metrics.LeaderAcquired()
	}

	dutiesCtx, stopDuties := context.WithCancel(ctx)
	go e.onElected(dutiesCtx)

	reason := e.hold(ctx, s)

	stopDuties()
	e.onDemoted()
	e.setLeader(false)
	if e.metrics != nil {
		e.metrics.LeaderLost(reason)
	}

	// Closing a sql.Conn returns it to the pool, so a live session must give
	// the lock back explicitly.
	if reason == ReasonShutdown {
		unlockCtx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
		if err := s.Unlock(unlockCtx, e.lockKey); err != nil {
			log.Printf("leader: unlock lock_key=%d: %v", e.lockKey, err)
		}
		cancel()
	}

	log.Printf("leader: stepped down lock_key=%d reason=%s", e.lockKey, reason)
	return reason
}

// hold pings the session until it fails or ctx ends.
func (e *Elector) hold(ctx context.Context, s session) string {
	ticker := time.NewTicker(e.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ReasonShutdown
		case <-ticker.C:
			if err := s.Ping(ctx); err != nil {
				if ctx.Err() != nil {
					return ReasonShutdown
				}
				log.Printf("leader: heartbeat failed: %v", err)
				return ReasonConnLost
			}
		}
	}
}

func (e *Elector) setLeader(v bool) {
	e.leader.Store(v)
	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(v)
	}
}

type pgSession struct {
	conn *sql.Conn
}

func (p pgSession) TryLock(ctx context.Context, key int64) (bool, error) {
	var acquired bool
	err := p.conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&acquired)
	return acquired, err
}

func (p pgSession) Unlock(ctx context.Context, key int64) error {
	_, err := p.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", key)
	return err
}

func (p pgSession) Ping(ctx context.Context) error {
	return p.conn.PingContext(ctx)
}

func (p pgSession) Close() error {
	return p.conn.Close()
}
