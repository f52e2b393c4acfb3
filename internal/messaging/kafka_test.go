package messaging

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"
)

func TestNewKafkaClient(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	brokers := []string{"localhost:9092"}

	client := NewKafkaClient(brokers, logger)

	if client == nil {
		t.Fatal("NewKafkaClient returned nil")
	}

	if len(client.brokers) != 1 || client.brokers[0] != "localhost:9092" {
		t.Errorf("Expected brokers [localhost:9092], got %v", client.brokers)
	}

	if client.logger == nil {
		t.Error("Logger should not be nil")
	}

	if client.writers == nil {
		t.Error("Writers map should not be nil")
	}

	if client.readers == nil {
		t.Error("Readers map should not be nil")
	}
}

func TestKafkaClient_GetProducer(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	client := NewKafkaClient([]string{"localhost:9092"}, logger)

	topic := "test-topic"

	// First call should create a new producer
	producer1 := client.GetProducer(topic)
	if producer1 == nil {
		t.Fatal("GetProducer returned nil")
	}

	if producer1.Topic != topic {
		t.Errorf("Expected topic %s, got %s", topic, producer1.Topic)
	}

	// Second call should return the same producer (cached)
	producer2 := client.GetProducer(topic)
	if producer1 != producer2 {
		t.Error("Expected same producer instance from cache")
	}

	// Verify producer is stored in map
	if len(client.writers) != 1 {
		t.Errorf("Expected 1 writer in map, got %d", len(client.writers))
	}
}

func TestKafkaClient_GetConsumer(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	client := NewKafkaClient([]string{"localhost:9092"}, logger)

	topic := "test-topic"
	groupID := "test-group"

	// First call should create a new consumer
	consumer1 := client.GetConsumer(topic, groupID)
	if consumer1 == nil {
		t.Fatal("GetConsumer returned nil")
	}

	// Second call should return the same consumer (cached)
	consumer2 := client.GetConsumer(topic, groupID)
	if consumer1 != consumer2 {
		t.Error("Expected same consumer instance from cache")
	}

	// Different group should create different consumer
	consumer3 := client.GetConsumer(topic, "different-group")
	if consumer1 == consumer3 {
		t.Error("Expected different consumer for different group")
	}

	// Verify consumers are stored in map
	if len(client.readers) != 2 {
		t.Errorf("Expected 2 readers in map, got %d", len(client.readers))
	}
}

func TestKafkaClient_PublishEvent(t *testing.T) {
	// Skip integration test if Kafka is not available
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	client := NewKafkaClient([]string{"localhost:9092"}, logger)

	event := ClaimEvent{
		JobID:     "job-0011223344556677",
		Account:   "alice",
		Reward:    0.003,
		Remaining: 7,
		ClaimedAt: time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// This will fail if Kafka is not running, but that's expected in unit tests
	err := client.PublishEvent(ctx, TopicClaims, event.JobID, event)
	if err != nil {
		t.Logf("Expected error without Kafka running: %v", err)
		// This is expected in unit tests without Kafka
		return
	}

	t.Log("Successfully published event to Kafka")
}

func TestTopicConstants(t *testing.T) {
	expectedTopics := map[string]string{
		"TopicJobCreated": "economy.job_created",
		"TopicJobRetired": "economy.job_retired",
		"TopicClaims":     "economy.claims",
		"TopicBonuses":    "economy.bonuses",
		"TopicTransfers":  "economy.transfers",
		"TopicSyncs":      "economy.syncs",
	}

	actualTopics := map[string]string{
		"TopicJobCreated": TopicJobCreated,
		"TopicJobRetired": TopicJobRetired,
		"TopicClaims":     TopicClaims,
		"TopicBonuses":    TopicBonuses,
		"TopicTransfers":  TopicTransfers,
		"TopicSyncs":      TopicSyncs,
	}

	for name, expected := range expectedTopics {
		if actual, exists := actualTopics[name]; !exists {
			t.Errorf("Topic constant %s is missing", name)
		} else if actual != expected {
			t.Errorf("Topic %s: expected %s, got %s", name, expected, actual)
		}
	}
}

// Mock event handler for testing
type mockEventHandler struct {
	events []mockEvent
}

type mockEvent struct {
	key   string
	event interface{}
}

func (h *mockEventHandler) HandleEvent(_ context.Context, key string, event interface{}) error {
	h.events = append(h.events, mockEvent{key: key, event: event})
	return nil
}

func TestKafkaClient_StartConsumer(t *testing.T) {
	// Skip integration test if Kafka is not available
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	client := NewKafkaClient([]string{"localhost:9092"}, logger)

	handler := &mockEventHandler{}

	eventFactory := func() interface{} {
		return &ClaimEvent{}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	// This will timeout quickly since we don't have messages to consume
	err := client.StartConsumer(ctx, TopicClaims, "test-group", eventFactory, handler)
	if err != context.DeadlineExceeded {
		t.Logf("Consumer stopped with: %v", err)
	}

	// Verify no events were processed (expected without Kafka)
	if len(handler.events) > 0 {
		t.Errorf("Expected 0 events, got %d", len(handler.events))
	}
}

func TestKafkaClient_Close(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	client := NewKafkaClient([]string{"localhost:9092"}, logger)

	// Create some producers and consumers
	_ = client.GetProducer("topic1")
	_ = client.GetProducer("topic2")
	_ = client.GetConsumer("topic1", "group1")
	_ = client.GetConsumer("topic2", "group2")

	// Verify they were created
	if len(client.writers) != 2 {
		t.Errorf("Expected 2 writers, got %d", len(client.writers))
	}
	if len(client.readers) != 2 {
		t.Errorf("Expected 2 readers, got %d", len(client.readers))
	}

	// Close the client
	err := client.Close()
	if err != nil {
		t.Logf("Close returned error (expected without Kafka): %v", err)
	}

	// Verify maps were cleared
	if len(client.writers) != 0 {
		t.Errorf("Expected 0 writers after close, got %d", len(client.writers))
	}
	if len(client.readers) != 0 {
		t.Errorf("Expected 0 readers after close, got %d", len(client.readers))
	}
}

// Benchmark tests for performance
func BenchmarkKafkaClient_GetProducer(b *testing.B) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	client := NewKafkaClient([]string{"localhost:9092"}, logger)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = client.GetProducer("test-topic")
	}
}

func BenchmarkKafkaClient_GetConsumer(b *testing.B) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	client := NewKafkaClient([]string{"localhost:9092"}, logger)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = client.GetConsumer("test-topic", "test-group")
	}
}
