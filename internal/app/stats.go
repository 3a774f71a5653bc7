package app

import "github.com/dkeye/Duet/internal/app/matching"

// Stats is the live counter view served on /api/stats.
type Stats struct {
	Connections int `json:"connections"`
	matching.Snapshot
}

func CollectStats(reg *Registry, store *matching.Store) Stats {
	return Stats{Connections: reg.Count(), Snapshot: store.Snapshot()}
}
