package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ms-booking/internal/logger"

	"github.com/go-redis/redis/v8"
)

const (
	expiryPrefix = "booking_expiry:"
	lockPrefix   = "lock:"
)

// expiryMargin keeps the key alive until the stored deadline has strictly passed.
const expiryMargin = time.Second

// unlockScript deletes the lock only while it is still held by the caller.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Redis struct {
	Client *redis.Client
	Logger *logger.Logger
	Now    func() time.Time
}

func NewRedis(client *redis.Client, log *logger.Logger) *Redis {
	return &Redis{
		Client: client,
		Logger: log,
		Now:    time.Now,
	}
}

// ---------------- LOCKS ----------------

// Lock takes the named lock for owner if nobody holds it.
func (r *Redis) Lock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	return r.Client.SetNX(ctx, lockPrefix+name, owner, ttl).Result()
}

// Unlock releases the named lock if owner still holds it.
func (r *Redis) Unlock(ctx context.Context, name, owner string) error {
	return unlockScript.Run(ctx, r.Client, []string{lockPrefix + name}, owner).Err()
}

// ---------------- EXPIRY TIMERS ----------------

func ExpiryKey(bookingID string) string {
	return expiryPrefix + bookingID
}

// Arm sets a key that Redis expires shortly after at.
func (r *Redis) Arm(ctx context.Context, bookingID string, at time.Time) error {
	ttl := at.Sub(r.Now()) + expiryMargin
	if ttl < expiryMargin {
		ttl = expiryMargin
	}
	return r.Client.Set(ctx, ExpiryKey(bookingID), at.UTC().Format(time.RFC3339), ttl).Err()
}

func (r *Redis) Disarm(ctx context.Context, bookingID string) error {
	return r.Client.Del(ctx, ExpiryKey(bookingID)).Err()
}

// ---------------- KEYSPACE NOTIFICATIONS ----------------

// EnableExpiryNotifications turns on expired-key events. Managed Redis may
// refuse CONFIG SET; the periodic sweep still covers expiry then.
func (r *Redis) EnableExpiryNotifications(ctx context.Context) {
	if _, err := r.Client.ConfigSet(ctx, "notify-keyspace-events", "Ex").Result(); err != nil {
		r.Logger.Warn("REDIS", fmt.Sprintf("Failed to enable keyspace notifications: %v", err))
		return
	}
	r.Logger.Info("REDIS", "Keyspace notifications enabled for expired events")
}

// ExpiredBookingID extracts the booking id from an expired key name.
func ExpiredBookingID(key string) (string, bool) {
	if !strings.HasPrefix(key, expiryPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(key, expiryPrefix)
	return id, id != ""
}

// SubscribeExpiries calls handle for every expired booking timer until ctx is done.
func (r *Redis) SubscribeExpiries(ctx context.Context, handle func(ctx context.Context, bookingID string)) error {
	channel := fmt.Sprintf("__keyevent@%d__:expired", r.Client.Options().DB)
	pubsub := r.Client.PSubscribe(ctx, channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	r.Logger.Info("REDIS", fmt.Sprintf("Subscribed to %s", channel))

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			if id, ok := ExpiredBookingID(msg.Payload); ok {
				r.Logger.Debug("REDIS", fmt.Sprintf("expiry timer fired for booking %s", id))
				handle(ctx, id)
			}
		}
	}
}
