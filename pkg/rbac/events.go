package rbac

import "log/slog"

// RoleEventType identifies a role mutation kind.
type RoleEventType string

const (
	RoleEventAdded   RoleEventType = "role_added"
	RoleEventRemoved RoleEventType = "role_removed"
	RoleEventSet     RoleEventType = "roles_set"
	RoleEventDeleted RoleEventType = "roles_deleted"
)

// RoleEvent describes a role mutation on a namespace, published after the
// mutation is persisted.
type RoleEvent struct {
	Type      RoleEventType
	Actor     string
	Target    string
	Namespace string
	Roles     RoleSet
}

// EventPublisher receives fire-and-forget notifications on role changes.
// Publication failures never affect the mutation outcome.
type EventPublisher interface {
	Publish(event RoleEvent)
}

// LogEventPublisher publishes role events to the structured log. It is the
// default publisher when no external one is wired in.
type LogEventPublisher struct {
	Logger *slog.Logger
}

// Publish logs the event asynchronously so slow handlers never block the
// mutating request.
func (p *LogEventPublisher) Publish(event RoleEvent) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	go logger.Info("namespace role event",
		"type", string(event.Type),
		"actor", event.Actor,
		"target", event.Target,
		"namespace", event.Namespace,
		"roles", uint64(event.Roles))
}
