package usecase

import "context"

// BatchResult tallies a batch billing run. Processed == Successful + Failed.
type BatchResult struct {
	Processed  int `json:"processed"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// RetryResult tallies a retry run. Records that could not be resolved to a
// live subscription count as Failed without being Retried.
type RetryResult struct {
	Retried    int `json:"retried"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// BillingJobs defines the batch operations needed by schedulers and the ops
// CLI.
type BillingJobs interface {
	ProcessDueSubscriptions(ctx context.Context) (*BatchResult, error)
	RetryFailedPayments(ctx context.Context) (*RetryResult, error)
	ProcessGracePeriodExpirations(ctx context.Context) (*BatchResult, error)
	ReconcilePendingPayments(ctx context.Context) (*BatchResult, error)
}
