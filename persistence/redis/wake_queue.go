package redis

import (
	"context"
	"errors"
	"strconv"

	rd "github.com/go-redis/redis/v9"
	"github.com/journeyhq/journey/logger"
	"github.com/journeyhq/journey/persistence"
	"go.uber.org/zap"
)

const WAKE_QUEUE_KEY string = "WAKE_QUEUE"

var _ persistence.WakeQueue = new(redisWakeQueue)

// redisWakeQueue stores wake members in a sorted set scored by wake time in
// unix millis. A single scheduler goroutine pops, so read-then-remove does
// not need to be transactional.
type redisWakeQueue struct {
	*baseDao
}

func NewRedisWakeQueue(conf Config) *redisWakeQueue {
	return &redisWakeQueue{baseDao: newBaseDao(conf)}
}

func NewRedisWakeQueueFromClient(client rd.UniversalClient, namespace string) *redisWakeQueue {
	return &redisWakeQueue{baseDao: newBaseDaoFromClient(client, namespace)}
}

func (rq *redisWakeQueue) Push(member string, at int64) error {
	key := rq.getNamespaceKey(WAKE_QUEUE_KEY)
	ctx := context.Background()
	err := rq.redisClient.ZAdd(ctx, key, rd.Z{Score: float64(at), Member: member}).Err()
	if err != nil {
		logger.Error("error while pushing to wake queue", zap.String("member", member), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rq *redisWakeQueue) PopDue(now int64, limit int) ([]string, error) {
	key := rq.getNamespaceKey(WAKE_QUEUE_KEY)
	ctx := context.Background()
	opt := &rd.ZRangeBy{
		Min:   "0",
		Max:   strconv.FormatInt(now, 10),
		Count: int64(limit),
	}
	members, err := rq.redisClient.ZRangeByScore(ctx, key, opt).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		logger.Error("error while polling wake queue", zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	if len(members) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := rq.redisClient.ZRem(ctx, key, args...).Err(); err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return members, nil
}

func (rq *redisWakeQueue) Remove(member string) error {
	key := rq.getNamespaceKey(WAKE_QUEUE_KEY)
	ctx := context.Background()
	if err := rq.redisClient.ZRem(ctx, key, member).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}
