package redis

import (
	"context"
	"errors"

	rd "github.com/go-redis/redis/v9"
	"github.com/journeyhq/journey/logger"
	"github.com/journeyhq/journey/model"
	"github.com/journeyhq/journey/persistence"
	"github.com/journeyhq/journey/util"
	"go.uber.org/zap"
)

const FLOW_DEF_KEY string = "FLOW_DEF"

var _ persistence.FlowDefinitionDao = new(redisFlowDefinitionDao)

type redisFlowDefinitionDao struct {
	*baseDao
	encoderDecoder util.EncoderDecoder[model.FlowDefinition]
}

func NewRedisFlowDefinitionDao(conf Config) *redisFlowDefinitionDao {
	return &redisFlowDefinitionDao{
		baseDao:        newBaseDao(conf),
		encoderDecoder: util.NewJsonEncoderDecoder[model.FlowDefinition](),
	}
}

func NewRedisFlowDefinitionDaoFromClient(client rd.UniversalClient, namespace string) *redisFlowDefinitionDao {
	return &redisFlowDefinitionDao{
		baseDao:        newBaseDaoFromClient(client, namespace),
		encoderDecoder: util.NewJsonEncoderDecoder[model.FlowDefinition](),
	}
}

func (rfd *redisFlowDefinitionDao) Save(def model.FlowDefinition) error {
	key := rfd.getNamespaceKey(FLOW_DEF_KEY)
	ctx := context.Background()
	data, err := rfd.encoderDecoder.Encode(def)
	if err != nil {
		return err
	}
	if err := rfd.redisClient.HSet(ctx, key, def.Name, string(data)).Err(); err != nil {
		logger.Error("error in saving flow definition", zap.String("flow", def.Name), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rfd *redisFlowDefinitionDao) Delete(name string) error {
	key := rfd.getNamespaceKey(FLOW_DEF_KEY)
	ctx := context.Background()
	if err := rfd.redisClient.HDel(ctx, key, name).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rfd *redisFlowDefinitionDao) Get(name string) (*model.FlowDefinition, error) {
	key := rfd.getNamespaceKey(FLOW_DEF_KEY)
	ctx := context.Background()
	val, err := rfd.redisClient.HGet(ctx, key, name).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, persistence.NotFoundError{Kind: "flow definition", Id: name}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return rfd.encoderDecoder.Decode([]byte(val))
}

func (rfd *redisFlowDefinitionDao) List() ([]model.FlowDefinition, error) {
	key := rfd.getNamespaceKey(FLOW_DEF_KEY)
	ctx := context.Background()
	vals, err := rfd.redisClient.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	defs := make([]model.FlowDefinition, 0, len(vals))
	for _, val := range vals {
		def, err := rfd.encoderDecoder.Decode([]byte(val))
		if err != nil {
			return nil, err
		}
		defs = append(defs, *def)
	}
	return defs, nil
}
