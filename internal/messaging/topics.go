package messaging

// Topic constants for the economy event stream
const (
	// Job pool lifecycle
	TopicJobCreated = "economy.job_created" // coordinator → analytics
	TopicJobRetired = "economy.job_retired" // coordinator → analytics

	// Per-claim flow (highest volume)
	TopicClaims = "economy.claims" // coordinator → analytics

	// Balance movements
	TopicBonuses   = "economy.bonuses"   // coordinator → analytics
	TopicTransfers = "economy.transfers" // coordinator → analytics
	TopicSyncs     = "economy.syncs"     // coordinator → analytics
)
