package jobs

import (
	"context"
	"log"
	"time"

	"symptomcheck/internal/repository"
)

// StartPendingCleanupJob periodically removes unverified accounts whose
// signup challenge has expired, plus challengeless ones older than grace.
// The store's delete predicate re-checks the account state, so a sweep
// racing a just-completed verification is a no-op.
func StartPendingCleanupJob(ctx context.Context, store repository.Store, interval, grace time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	if grace <= 0 {
		grace = 10 * time.Minute
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tickCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
				deleted, err := store.DeleteExpiredPendingAccounts(tickCtx, time.Now().UTC(), grace)
				cancel()
				if err != nil {
					log.Printf("pending cleanup job error: %v", err)
					continue
				}
				if deleted > 0 {
					log.Printf("pending cleanup job removed %d abandoned registrations", deleted)
				}
			}
		}
	}()
}
