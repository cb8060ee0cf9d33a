package redis

import (
	"context"

	rd "github.com/go-redis/redis/v9"
	"github.com/journeyhq/journey/persistence"
)

const SEGMENT_KEY string = "SEGMENT"

var _ persistence.SegmentResolver = new(redisSegmentResolver)

// redisSegmentResolver reads segment membership from a set per segment.
// Membership is maintained by an external segmentation pipeline; this side
// only reads.
type redisSegmentResolver struct {
	*baseDao
}

func NewRedisSegmentResolver(conf Config) *redisSegmentResolver {
	return &redisSegmentResolver{baseDao: newBaseDao(conf)}
}

func NewRedisSegmentResolverFromClient(client rd.UniversalClient, namespace string) *redisSegmentResolver {
	return &redisSegmentResolver{baseDao: newBaseDaoFromClient(client, namespace)}
}

func (rs *redisSegmentResolver) Contacts(segmentId string) ([]string, error) {
	ctx := context.Background()
	key := rs.getNamespaceKey(SEGMENT_KEY, segmentId)
	members, err := rs.redisClient.SMembers(ctx, key).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return members, nil
}

// AddContact is a test and tooling convenience; production membership comes
// from the segmentation pipeline writing the same sets.
func (rs *redisSegmentResolver) AddContact(segmentId string, contactId string) error {
	ctx := context.Background()
	key := rs.getNamespaceKey(SEGMENT_KEY, segmentId)
	if err := rs.redisClient.SAdd(ctx, key, contactId).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}
