// Package metrics provides InfluxDB time-series recording for the JEFE COIN
// economy: claim throughput, reward flow, job pool churn, and aggregate
// snapshots.
package metrics

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Client wraps InfluxDB operations for time-series metrics
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	queryAPI api.QueryAPI
	bucket   string
	org      string
}

// Config holds InfluxDB connection configuration
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// NewClient creates a new InfluxDB client
func NewClient(cfg *Config) (*Client, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check InfluxDB health: %w", err)
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return nil, fmt.Errorf("InfluxDB health check failed: %s", msg)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	queryAPI := client.QueryAPI(cfg.Org)

	return &Client{
		client:   client,
		writeAPI: writeAPI,
		queryAPI: queryAPI,
		bucket:   cfg.Bucket,
		org:      cfg.Org,
	}, nil
}

// Close flushes pending points and closes the connection
func (c *Client) Close() {
	c.writeAPI.Flush()
	c.client.Close()
}

// Health checks InfluxDB connectivity
func (c *Client) Health(ctx context.Context) error {
	health, err := c.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to check health: %w", err)
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("health check failed: %s", msg)
	}

	return nil
}

// Economy metrics

// WriteClaimMetric writes one claim attempt with its outcome
func (c *Client) WriteClaimMetric(account, jobID, outcome string, reward float64, remaining int) {
	tags := map[string]string{
		"account": account,
		"job_id":  jobID,
		"outcome": outcome,
	}

	fields := map[string]interface{}{
		"reward":    reward,
		"remaining": remaining,
		"count":     1,
	}

	point := write.NewPoint("claims", tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WriteRewardMetric writes a balance credit (mining, bonus, or sync)
func (c *Client) WriteRewardMetric(account, kind string, amount float64) {
	tags := map[string]string{
		"account": account,
		"kind":    kind,
	}

	fields := map[string]interface{}{
		"amount": amount,
		"count":  1,
	}

	point := write.NewPoint("rewards", tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WriteJobMetric writes a job lifecycle transition
func (c *Client) WriteJobMetric(jobID, status string, size, difficulty, contributors int) {
	tags := map[string]string{
		"job_id": jobID,
		"status": status,
	}

	fields := map[string]interface{}{
		"size":         size,
		"difficulty":   difficulty,
		"contributors": contributors,
		"count":        1,
	}

	point := write.NewPoint("jobs", tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WriteTransferMetric writes a wallet transfer
func (c *Client) WriteTransferMetric(from, to string, amount float64) {
	tags := map[string]string{
		"from": from,
		"to":   to,
	}

	fields := map[string]interface{}{
		"amount": amount,
		"count":  1,
	}

	point := write.NewPoint("transfers", tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WriteSyncMetric writes an offline reconciliation batch
func (c *Client) WriteSyncMetric(account string, totalProofs, validProofs int, credited float64) {
	tags := map[string]string{
		"account": account,
	}

	fields := map[string]interface{}{
		"total_proofs": totalProofs,
		"valid_proofs": validProofs,
		"credited":     credited,
		"count":        1,
	}

	point := write.NewPoint("syncs", tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WriteEconomySnapshot writes an aggregate economy snapshot
func (c *Client) WriteEconomySnapshot(activeJobs int, accounts int64, circulating float64) {
	fields := map[string]interface{}{
		"active_jobs": activeJobs,
		"accounts":    accounts,
		"circulating": circulating,
	}

	point := write.NewPoint("economy", map[string]string{}, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// Query methods

// ClaimStats aggregates claim outcomes over a time window
type ClaimStats struct {
	Accepted      int64   `json:"accepted"`
	Rejected      int64   `json:"rejected"`
	Total         int64   `json:"total"`
	AcceptPercent float64 `json:"accept_percent"`
}

// GetClaimStats retrieves claim statistics for an account over a duration
func (c *Client) GetClaimStats(ctx context.Context, account string, duration time.Duration) (*ClaimStats, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
		|> range(start: -%s)
		|> filter(fn: (r) => r._measurement == "claims")
		|> filter(fn: (r) => r.account == "%s")
		|> filter(fn: (r) => r._field == "count")
		|> group(columns: ["outcome"])
		|> sum()
	`, c.bucket, duration.String(), account)

	result, err := c.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query claim stats: %w", err)
	}
	defer func() {
		_ = result.Close()
	}()

	stats := &ClaimStats{}
	for result.Next() {
		record := result.Record()
		if count, ok := record.Value().(int64); ok {
			if record.ValueByKey("outcome") == "accepted" {
				stats.Accepted = count
			} else {
				stats.Rejected += count
			}
		}
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("error reading query result: %w", result.Err())
	}

	stats.Total = stats.Accepted + stats.Rejected
	if stats.Total > 0 {
		stats.AcceptPercent = float64(stats.Accepted) / float64(stats.Total) * 100
	}

	return stats, nil
}

// GetRewardFlow retrieves total rewards credited over a duration
func (c *Client) GetRewardFlow(ctx context.Context, duration time.Duration) (float64, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
		|> range(start: -%s)
		|> filter(fn: (r) => r._measurement == "rewards")
		|> filter(fn: (r) => r._field == "amount")
		|> group()
		|> sum()
	`, c.bucket, duration.String())

	result, err := c.queryAPI.Query(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to query reward flow: %w", err)
	}
	defer func() {
		_ = result.Close()
	}()

	if result.Next() {
		record := result.Record()
		if total, ok := record.Value().(float64); ok {
			return total, nil
		}
	}

	if result.Err() != nil {
		return 0, fmt.Errorf("error reading query result: %w", result.Err())
	}

	return 0, nil
}

// Flush forces a write of all pending points
func (c *Client) Flush() {
	c.writeAPI.Flush()
}
