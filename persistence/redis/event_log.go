package redis

import (
	"context"

	rd "github.com/go-redis/redis/v9"
	"github.com/journeyhq/journey/model"
	"github.com/journeyhq/journey/persistence"
	"github.com/journeyhq/journey/util"
)

const EVENTS_KEY string = "EVENTS"

var _ persistence.EventLog = new(redisEventLog)

type redisEventLog struct {
	*baseDao
	encoderDecoder util.EncoderDecoder[model.Event]
}

func NewRedisEventLog(conf Config) *redisEventLog {
	return &redisEventLog{
		baseDao:        newBaseDao(conf),
		encoderDecoder: util.NewJsonEncoderDecoder[model.Event](),
	}
}

func NewRedisEventLogFromClient(client rd.UniversalClient, namespace string) *redisEventLog {
	return &redisEventLog{
		baseDao:        newBaseDaoFromClient(client, namespace),
		encoderDecoder: util.NewJsonEncoderDecoder[model.Event](),
	}
}

func (re *redisEventLog) Append(event model.Event) error {
	ctx := context.Background()
	key := re.getNamespaceKey(EVENTS_KEY, event.ContactId)
	data, err := re.encoderDecoder.Encode(event)
	if err != nil {
		return err
	}
	if err := re.redisClient.RPush(ctx, key, string(data)).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (re *redisEventLog) History(contactId string, limit int) ([]model.Event, error) {
	ctx := context.Background()
	key := re.getNamespaceKey(EVENTS_KEY, contactId)
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	vals, err := re.redisClient.LRange(ctx, key, start, -1).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	events := make([]model.Event, 0, len(vals))
	for _, val := range vals {
		event, err := re.encoderDecoder.Decode([]byte(val))
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}
	return events, nil
}
