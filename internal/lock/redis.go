package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	keyPrefix       = "gridclimate:lock:"
	defaultTTL      = 15 * time.Minute
	defaultInterval = 250 * time.Millisecond
)

// releaseScript deletes the key only while it still carries our token.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// renewScript extends the lease only while the key still carries our token.
const renewScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`

// Client is the subset of *redis.Client the locker uses.
type Client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	Close() error
}

// Redis implements Locker with SET NX PX leases and token-checked release.
// A held lease is renewed every third of its TTL until released, so a
// region that takes longer than the TTL to fetch keeps its lock.
type Redis struct {
	client   Client
	ttl      time.Duration
	interval time.Duration
	clock    clockwork.Clock
}

// NewRedis returns a Redis locker. A zero ttl uses 15 minutes.
func NewRedis(client Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Redis{client: client, ttl: ttl, interval: defaultInterval, clock: clockwork.NewRealClock()}
}

func (r *Redis) Acquire(ctx context.Context, key string) (Release, error) {
	k := keyPrefix + key
	token := uuid.New().String()

	for {
		ok, err := r.client.SetNX(ctx, k, token, r.ttl).Result()
		if err != nil {
			return nil, eris.Wrapf(err, "lock: setnx %s", key)
		}
		if ok {
			break
		}
		t := time.NewTimer(r.interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, eris.Wrapf(ctx.Err(), "lock: acquire %s", key)
		case <-t.C:
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	ticker := r.clock.NewTicker(max(r.ttl/3, time.Millisecond))
	go r.renew(k, token, ticker, stop, done)

	var once sync.Once
	return func(ctx context.Context) error {
		once.Do(func() {
			close(stop)
			<-done
		})
		n, err := r.client.Eval(ctx, releaseScript, []string{k}, token).Int64()
		if err != nil {
			return eris.Wrapf(err, "lock: release %s", key)
		}
		if n == 0 {
			return eris.Wrapf(ErrLockLost, "lock: release %s", key)
		}
		return nil
	}, nil
}

// renew extends the lease on every tick until stop closes or the lease turns
// out to belong to someone else.
func (r *Redis) renew(key, token string, ticker clockwork.Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer ticker.Stop()
	log := zap.L().With(zap.String("component", "lock.redis"), zap.String("key", key))

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
		}
		ctx, cancel := context.WithTimeout(context.Background(), max(r.ttl/3, time.Second))
		n, err := r.client.Eval(ctx, renewScript, []string{key}, token, r.ttl.Milliseconds()).Int64()
		cancel()
		if err != nil {
			log.Warn("lock: renew lease", zap.Error(err))
			continue
		}
		if n == 0 {
			log.Error("lock: lease lost before release")
			return
		}
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}
