package redis

import (
	"context"
	"encoding/json"
	"errors"

	rd "github.com/go-redis/redis/v9"
	"github.com/journeyhq/journey/model"
	"github.com/journeyhq/journey/persistence"
	"github.com/journeyhq/journey/schema"
)

const PROPS_KEY string = "PROPS"

var _ persistence.PropertyStore = new(redisPropertyStore)

// redisPropertyStore keeps one hash per contact with JSON-encoded values.
// Every write goes through schema validation first; a rejected write touches
// nothing. Write-then-notify atomicity comes from the engine running all
// writes for a contact on its serialization shard.
type redisPropertyStore struct {
	*baseDao
	schema *schema.Schema
}

func NewRedisPropertyStore(conf Config, sc *schema.Schema) *redisPropertyStore {
	return &redisPropertyStore{baseDao: newBaseDao(conf), schema: sc}
}

func NewRedisPropertyStoreFromClient(client rd.UniversalClient, namespace string, sc *schema.Schema) *redisPropertyStore {
	return &redisPropertyStore{baseDao: newBaseDaoFromClient(client, namespace), schema: sc}
}

func (rp *redisPropertyStore) GetContact(contactId string) (*model.Contact, error) {
	ctx := context.Background()
	key := rp.getNamespaceKey(PROPS_KEY, contactId)
	vals, err := rp.redisClient.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	props := make(map[string]any, len(vals))
	for k, v := range vals {
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err != nil {
			return nil, persistence.StorageLayerError{Message: err.Error()}
		}
		props[k] = decoded
	}
	return &model.Contact{Id: contactId, Properties: props}, nil
}

func (rp *redisPropertyStore) GetProperty(contactId string, key string) (any, error) {
	ctx := context.Background()
	hkey := rp.getNamespaceKey(PROPS_KEY, contactId)
	val, err := rp.redisClient.HGet(ctx, hkey, key).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	var decoded any
	if err := json.Unmarshal([]byte(val), &decoded); err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return decoded, nil
}

func (rp *redisPropertyStore) SetProperty(contactId string, key string, value any) (any, error) {
	if err := rp.schema.Validate(key, value); err != nil {
		return nil, err
	}
	old, err := rp.GetProperty(contactId, key)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	ctx := context.Background()
	hkey := rp.getNamespaceKey(PROPS_KEY, contactId)
	if err := rp.redisClient.HSet(ctx, hkey, key, string(data)).Err(); err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return old, nil
}
