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

const INSTANCE_KEY string = "INSTANCE"
const ACTIVE_KEY string = "ACTIVE"
const CONTACT_INSTANCES_KEY string = "CONTACT_INSTANCES"
const SUSPENDED_KEY string = "SUSPENDED"

var _ persistence.InstanceDao = new(redisInstanceDao)

// redisInstanceDao keeps one hash of all instance records plus three indexes:
// per-contact active flows (the duplicate-trigger check), per-contact
// instance sets and the suspended set used for scheduler rebuild. Index
// consistency relies on the engine serializing all writes for one contact.
type redisInstanceDao struct {
	*baseDao
	encoderDecoder util.EncoderDecoder[model.FlowInstance]
}

func NewRedisInstanceDao(conf Config) *redisInstanceDao {
	return &redisInstanceDao{
		baseDao:        newBaseDao(conf),
		encoderDecoder: util.NewJsonEncoderDecoder[model.FlowInstance](),
	}
}

func NewRedisInstanceDaoFromClient(client rd.UniversalClient, namespace string) *redisInstanceDao {
	return &redisInstanceDao{
		baseDao:        newBaseDaoFromClient(client, namespace),
		encoderDecoder: util.NewJsonEncoderDecoder[model.FlowInstance](),
	}
}

func (ri *redisInstanceDao) Save(instance *model.FlowInstance) error {
	ctx := context.Background()
	data, err := ri.encoderDecoder.Encode(*instance)
	if err != nil {
		return err
	}
	key := ri.getNamespaceKey(INSTANCE_KEY)
	activeKey := ri.getNamespaceKey(ACTIVE_KEY, instance.ContactId)
	contactKey := ri.getNamespaceKey(CONTACT_INSTANCES_KEY, instance.ContactId)
	waitingKey := ri.getNamespaceKey(SUSPENDED_KEY)

	if err := ri.redisClient.HSet(ctx, key, instance.Id, string(data)).Err(); err != nil {
		logger.Error("error in saving flow instance", zap.String("instance", instance.Id), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	if err := ri.redisClient.SAdd(ctx, contactKey, instance.Id).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	if instance.Status.Terminal() {
		if err := ri.redisClient.HDel(ctx, activeKey, instance.FlowName).Err(); err != nil {
			return persistence.StorageLayerError{Message: err.Error()}
		}
	} else {
		if err := ri.redisClient.HSet(ctx, activeKey, instance.FlowName, instance.Id).Err(); err != nil {
			return persistence.StorageLayerError{Message: err.Error()}
		}
	}
	if (instance.WakeAt > 0 || instance.AwaitCause != "") && !instance.Status.Terminal() {
		err = ri.redisClient.SAdd(ctx, waitingKey, instance.Id).Err()
	} else {
		err = ri.redisClient.SRem(ctx, waitingKey, instance.Id).Err()
	}
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (ri *redisInstanceDao) Get(id string) (*model.FlowInstance, error) {
	ctx := context.Background()
	key := ri.getNamespaceKey(INSTANCE_KEY)
	val, err := ri.redisClient.HGet(ctx, key, id).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, persistence.NotFoundError{Kind: "flow instance", Id: id}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return ri.encoderDecoder.Decode([]byte(val))
}

func (ri *redisInstanceDao) ActiveInstances(contactId string) (map[string]string, error) {
	ctx := context.Background()
	activeKey := ri.getNamespaceKey(ACTIVE_KEY, contactId)
	res, err := ri.redisClient.HGetAll(ctx, activeKey).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return res, nil
}

func (ri *redisInstanceDao) ListByContact(contactId string) ([]model.FlowInstance, error) {
	ctx := context.Background()
	contactKey := ri.getNamespaceKey(CONTACT_INSTANCES_KEY, contactId)
	ids, err := ri.redisClient.SMembers(ctx, contactKey).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return ri.getAll(ids)
}

func (ri *redisInstanceDao) ListSuspended() ([]model.FlowInstance, error) {
	ctx := context.Background()
	waitingKey := ri.getNamespaceKey(SUSPENDED_KEY)
	ids, err := ri.redisClient.SMembers(ctx, waitingKey).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return ri.getAll(ids)
}

func (ri *redisInstanceDao) getAll(ids []string) ([]model.FlowInstance, error) {
	instances := make([]model.FlowInstance, 0, len(ids))
	for _, id := range ids {
		instance, err := ri.Get(id)
		if err != nil {
			if errors.As(err, &persistence.NotFoundError{}) {
				continue
			}
			return nil, err
		}
		instances = append(instances, *instance)
	}
	return instances, nil
}
