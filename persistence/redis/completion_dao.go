package redis

import (
	"context"
	"errors"

	rd "github.com/go-redis/redis/v9"
	"github.com/journeyhq/journey/model"
	"github.com/journeyhq/journey/persistence"
	"github.com/journeyhq/journey/util"
)

const COMPLETION_KEY string = "COMPLETION"

var _ persistence.CompletionDao = new(redisCompletionDao)

type redisCompletionDao struct {
	*baseDao
	encoderDecoder util.EncoderDecoder[model.CompletionGroup]
}

func NewRedisCompletionDao(conf Config) *redisCompletionDao {
	return &redisCompletionDao{
		baseDao:        newBaseDao(conf),
		encoderDecoder: util.NewJsonEncoderDecoder[model.CompletionGroup](),
	}
}

func NewRedisCompletionDaoFromClient(client rd.UniversalClient, namespace string) *redisCompletionDao {
	return &redisCompletionDao{
		baseDao:        newBaseDaoFromClient(client, namespace),
		encoderDecoder: util.NewJsonEncoderDecoder[model.CompletionGroup](),
	}
}

func (rc *redisCompletionDao) Save(group *model.CompletionGroup) error {
	ctx := context.Background()
	key := rc.getNamespaceKey(COMPLETION_KEY)
	data, err := rc.encoderDecoder.Encode(*group)
	if err != nil {
		return err
	}
	if err := rc.redisClient.HSet(ctx, key, group.CauseId, string(data)).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rc *redisCompletionDao) Get(causeId string) (*model.CompletionGroup, error) {
	ctx := context.Background()
	key := rc.getNamespaceKey(COMPLETION_KEY)
	val, err := rc.redisClient.HGet(ctx, key, causeId).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, persistence.NotFoundError{Kind: "completion group", Id: causeId}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return rc.encoderDecoder.Decode([]byte(val))
}

func (rc *redisCompletionDao) ListUnresolved() ([]model.CompletionGroup, error) {
	ctx := context.Background()
	key := rc.getNamespaceKey(COMPLETION_KEY)
	values, err := rc.redisClient.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	groups := make([]model.CompletionGroup, 0, len(values))
	for _, val := range values {
		group, err := rc.encoderDecoder.Decode([]byte(val))
		if err != nil {
			return nil, err
		}
		if group.Resolved {
			continue
		}
		groups = append(groups, *group)
	}
	return groups, nil
}
