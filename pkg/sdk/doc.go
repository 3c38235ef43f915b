// Package pixelquota embeds the daily generation quota engine in a Go
// program, without the HTTP server.
//
// Usage records live in an in-memory SQLite database. Every change is
// snapshotted to the configured byte storage (a directory, Valkey or Redis)
// under a single key, the same snapshot the pixelquota server uses.
//
//	client, _ := pixelquota.New(ctx,
//	    pixelquota.WithValkey("localhost:6379", ""),
//	    pixelquota.WithDailyLimit(5),
//	)
//	defer client.Close()
//
//	q, err := client.Quota(ctx, "user@example.com")
//	if q.Remaining > 0 {
//	    // generate, then:
//	    q, err = client.Consume(ctx, "user@example.com")
//	    if errors.Is(err, pixelquota.ErrPersist) {
//	        // counted in memory, snapshot not saved
//	    }
//	}
package pixelquota
