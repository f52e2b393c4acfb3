package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jefeCoincmd/jefe-coin/internal/store"
)

// publishTimeout bounds each fire-and-forget publication.
const publishTimeout = 5 * time.Second

// Publisher emits economy events to Kafka. Every method is fire-and-forget:
// the claim and transfer paths never wait on the broker.
type Publisher struct {
	client *KafkaClient
	logger *slog.Logger
}

// NewPublisher creates an event publisher over an existing Kafka client.
func NewPublisher(client *KafkaClient, logger *slog.Logger) *Publisher {
	return &Publisher{client: client, logger: logger}
}

func (p *Publisher) publish(topic, key string, event interface{}) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := p.client.PublishEvent(ctx, topic, key, event); err != nil {
			p.logger.Warn("event publication failed", "topic", topic, "key", key, "error", err)
		}
	}()
}

// JobCreated publishes a job-created event.
func (p *Publisher) JobCreated(job *store.Job) {
	p.publish(TopicJobCreated, job.ID, JobCreatedEvent{
		JobID:         job.ID,
		Size:          job.Size,
		Difficulty:    job.Difficulty,
		RewardPerUnit: job.RewardPerUnit,
		BonusPool:     job.BonusPool,
		ExpiresAt:     job.ExpiresAt,
		CreatedAt:     job.CreatedAt,
	})
}

// JobRetired publishes a job-retired event.
func (p *Publisher) JobRetired(job *store.Job, contributors int) {
	p.publish(TopicJobRetired, job.ID, JobRetiredEvent{
		JobID:        job.ID,
		Status:       string(job.Status),
		Size:         job.Size,
		Contributors: contributors,
		RetiredAt:    time.Now().UTC(),
	})
}

// ClaimRecorded publishes an accepted-claim event.
func (p *Publisher) ClaimRecorded(account string, job *store.Job, remaining int, reward float64) {
	p.publish(TopicClaims, job.ID, ClaimEvent{
		JobID:     job.ID,
		Account:   account,
		Reward:    reward,
		Remaining: remaining,
		ClaimedAt: time.Now().UTC(),
	})
}

// BonusPaid publishes a bonus-share event.
func (p *Publisher) BonusPaid(jobID, account string, units int, share float64) {
	p.publish(TopicBonuses, fmt.Sprintf("%s-%s", jobID, account), BonusEvent{
		JobID:   jobID,
		Account: account,
		Units:   units,
		Share:   share,
		PaidAt:  time.Now().UTC(),
	})
}

// TransferExecuted publishes a transfer event.
func (p *Publisher) TransferExecuted(from, to string, amount float64) {
	p.publish(TopicTransfers, from, TransferEvent{
		From:       from,
		To:         to,
		Amount:     amount,
		ExecutedAt: time.Now().UTC(),
	})
}

// SyncCompleted publishes an offline-sync event.
func (p *Publisher) SyncCompleted(account string, total, valid int, credited float64) {
	p.publish(TopicSyncs, account, SyncEvent{
		Account:     account,
		TotalProofs: total,
		ValidProofs: valid,
		Credited:    credited,
		SyncedAt:    time.Now().UTC(),
	})
}
