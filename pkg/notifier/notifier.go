// Package notifier publishes converged list states to the pub/sub transport.
// An external bridge maps the topic to per-user delivery channels; the core
// depends on this single outbound call only.
package notifier

import (
	"context"

	"github.com/hyp3rd/ewrap"
	"github.com/redis/go-redis/v9"

	"github.com/hyp3rd/listsync/internal/constants"
	"github.com/hyp3rd/listsync/internal/libs/serializer"
	"github.com/hyp3rd/listsync/internal/sentinel"
	"github.com/hyp3rd/listsync/pkg/model"
)

// Publisher emits a user's resolved lists.
type Publisher interface {
	PublishUserLists(ctx context.Context, userID string, lists []model.List) error
}

// RedisPublisher publishes on a redis pub/sub channel. The wire form is
// "<userId> <JSON-array-of-List>".
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
	codec   serializer.ISerializer
}

// RedisPublisherOption configures the publisher.
type RedisPublisherOption func(*RedisPublisher)

// WithChannel overrides the pub/sub channel.
func WithChannel(channel string) RedisPublisherOption {
	return func(p *RedisPublisher) {
		if channel != "" {
			p.channel = channel
		}
	}
}

// NewRedisPublisher creates a publisher over the given client.
func NewRedisPublisher(client *redis.Client, opts ...RedisPublisherOption) (*RedisPublisher, error) {
	if client == nil {
		return nil, sentinel.ErrNilClient
	}

	p := &RedisPublisher{rdb: client, channel: constants.UserListsChannel}
	for _, opt := range opts {
		opt(p)
	}

	if p.codec == nil {
		ser, err := serializer.New("json")
		if err != nil {
			return nil, err
		}

		p.codec = ser
	}

	return p, nil
}

// PublishUserLists emits one message carrying the user id and the JSON array
// of resolved lists.
func (p *RedisPublisher) PublishUserLists(ctx context.Context, userID string, lists []model.List) error {
	if userID == "" {
		return ewrap.Wrap(sentinel.ErrParamCannotBeEmpty, "userId")
	}

	if lists == nil {
		lists = []model.List{}
	}

	data, err := p.codec.Marshal(lists)
	if err != nil {
		return ewrap.Wrap(err, "encoding lists")
	}

	message := userID + " " + string(data)

	err = p.rdb.Publish(ctx, p.channel, message).Err()

	return ewrap.Wrap(err, "publishing user lists")
}
