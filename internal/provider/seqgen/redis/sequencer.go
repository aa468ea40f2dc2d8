package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/zfair/zuid/internal/provider/seqgen"
)

// DefaultKey holds the counter when the config names no key.
const DefaultKey = "zuid:sequence"

var _ seqgen.Sequencer = (*Sequencer)(nil)

// Sequencer is a sequence shared by every process pointed at the same Redis
// key. Like the in-process counter it starts at 0, but it lives as long as
// the key does.
type Sequencer struct {
	logger *zap.Logger
	rdb    *redis.Client
	key    string
}

func NewSequencer(logger *zap.Logger) *Sequencer {
	return &Sequencer{
		logger: logger,
	}
}

func (s *Sequencer) Name() string {
	return "redis"
}

func (s *Sequencer) Configure(ctx context.Context, config map[string]interface{}) error {
	addr, _ := config["addr"].(string)
	password, _ := config["password"].(string)

	db := 0
	if v, ok := config["db"]; ok {
		n, err := strconv.ParseInt(fmt.Sprint(v), 10, 32)
		if err != nil {
			return errors.WithStack(err)
		}
		db = int(n)
	}

	s.key = DefaultKey
	if key, ok := config["key"].(string); ok && key != "" {
		s.key = key
	}

	opts := redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}
	s.rdb = redis.NewClient(&opts)
	err := s.rdb.Ping(ctx).Err()
	if err != nil {
		_ = s.rdb.Close()
		return errors.WithStack(err)
	}
	s.logger.Info(
		"Redis Sequencer Connected",
		zap.String("addr", addr),
		zap.String("key", s.key),
	)
	return nil
}

// Close the redis connection.
func (s *Sequencer) Close() error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

// NextID increments the shared key. INCR yields 1 for a fresh key, so the
// returned id is one less.
func (s *Sequencer) NextID(ctx context.Context) (uint64, error) {
	v, err := s.rdb.Incr(ctx, s.key).Result()
	if err != nil {
		return 0, errors.WithStack(err)
	}
	s.logger.Debug(
		"Redis Sequencer Next",
		zap.String("key", s.key),
		zap.Int64("value", v),
	)
	return uint64(v - 1), nil
}
