package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"vigil-backend/internal/models"
)

const AllAlertsChannel = "alerts:all"

func UserChannel(userID uuid.UUID) string {
	return fmt.Sprintf("user_updates:%s", userID.String())
}

func OrgAlertsChannel(orgID uuid.UUID) string {
	return fmt.Sprintf("org_alerts:%s", orgID.String())
}

// Publisher fans live updates out over Redis pub/sub to every websocket hub.
// A nil Publisher drops messages.
type Publisher struct {
	redis *redis.Client
	log   *logrus.Entry
}

func NewPublisher(redisClient *redis.Client, logger *logrus.Logger) *Publisher {
	return &Publisher{redis: redisClient, log: logger.WithField("component", "publisher")}
}

// PublishToUser sends a WebSocket update to one learner.
func (p *Publisher) PublishToUser(ctx context.Context, userID uuid.UUID, msg models.WSMessage) {
	p.publish(ctx, UserChannel(userID), msg)
}

// PublishAlert notifies reviewers of the alert's organization and global admins.
func (p *Publisher) PublishAlert(ctx context.Context, orgID *uuid.UUID, msg models.WSMessage) {
	if orgID != nil {
		p.publish(ctx, OrgAlertsChannel(*orgID), msg)
	}
	p.publish(ctx, AllAlertsChannel, msg)
}

func (p *Publisher) publish(ctx context.Context, channel string, msg models.WSMessage) {
	if p == nil || p.redis == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		p.log.WithError(err).Error("failed to encode live update")
		return
	}
	if err := p.redis.Publish(ctx, channel, string(data)).Err(); err != nil {
		p.log.WithError(err).WithField("channel", channel).Warn("failed to publish live update")
	}
}
