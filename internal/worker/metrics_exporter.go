package worker

import (
	"context"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/observability"
	"github.com/spec-kit/helpdesk/internal/store"
)

// SnapshotSource is the subset of the store the exporter reads.
type SnapshotSource interface {
	Snapshot(role domain.Role, userID string) store.Snapshot
	Subscribe(role domain.Role, userID string) (<-chan store.Snapshot, func())
}

// StartMetricsExporter keeps the ticket and connectivity gauges in line with
// the administrator view of the store. It returns once ctx ends or the store
// closes.
func StartMetricsExporter(ctx context.Context, source SnapshotSource, metrics *observability.Metrics) <-chan struct{} {
	done := make(chan struct{})
	if source == nil || metrics == nil {
		close(done)
		return done
	}
	updates, cancel := source.Subscribe(domain.RoleAdministrator, "")
	export(metrics, source.Snapshot(domain.RoleAdministrator, ""))

	go func() {
		defer close(done)
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case snap, ok := <-updates:
				if !ok {
					return
				}
				export(metrics, snap)
			}
		}
	}()
	return done
}

func export(metrics *observability.Metrics, snap store.Snapshot) {
	metrics.SetTickets(snap.Tickets, snap.Metrics)
	metrics.SetConnectivity(snap.Connectivity.Mode)
}
