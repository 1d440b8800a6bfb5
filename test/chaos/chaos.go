package chaos

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Killer terminates backends of the application under test while actors run.
type Killer struct {
	Pool    *pgxpool.Pool
	AppName string
	Every   time.Duration
	// OneIn is the chance denominator per tick.
	OneIn int

	killed atomic.Int64
}

// Killed returns how many backends were terminated so far.
func (k *Killer) Killed() int64 { return k.killed.Load() }

// Run terminates a random backend whose application_name matches AppName, never its own.
func (k *Killer) Run(ctx context.Context, stop <-chan struct{}) {
	every := k.Every
	if every <= 0 {
		every = 2 * time.Second
	}
	oneIn := k.OneIn
	if oneIn <= 0 {
		oneIn = 5
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if rand.Intn(oneIn) != 0 {
				continue
			}
			var n int64
			err := k.Pool.QueryRow(ctx, `
				SELECT COUNT(*) FROM (
					SELECT pg_terminate_backend(pid)
					FROM pg_stat_activity
					WHERE datname = current_database()
					  AND pid <> pg_backend_pid()
					  AND ($1 = '' OR application_name = $1)
					  AND state IN ('active', 'idle in transaction')
					ORDER BY random()
					LIMIT 1
				) t
			`, k.AppName).Scan(&n)
			if err == nil {
				k.killed.Add(n)
			}
		}
	}
}
