// Package hierarchy expands detection targets into flat subscription
// lists, walking management group membership through a lookup service.
package hierarchy

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// GroupClient lists the subscriptions under one management group. The
// listing includes subscriptions of nested groups.
type GroupClient interface {
	Subscriptions(ctx context.Context, groupID string) ([]string, error)
}

// GroupError records one management group that could not be expanded.
type GroupError struct {
	GroupID string
	Err     error
}

// Resolution is the outcome of expanding a mixed target list. Group
// failures are non-fatal and surface here alongside what did resolve.
type Resolution struct {
	SubscriptionIDs []string
	GroupErrors     []GroupError
}

// Resolver expands subscription and management group targets.
type Resolver struct {
	groups GroupClient
	logger zerolog.Logger
}

// NewResolver builds a resolver around a group lookup client.
func NewResolver(groups GroupClient, logger zerolog.Logger) *Resolver {
	return &Resolver{groups: groups, logger: logger}
}

// Resolve returns the deduplicated union of the direct subscriptions
// and every group's members, in first-seen order. A group that fails to
// expand is recorded and skipped; the error return is non-nil only when
// nothing resolves at all.
func (r *Resolver) Resolve(ctx context.Context, subscriptionIDs, groupIDs []string) (Resolution, error) {
	res := Resolution{}
	seen := make(map[string]struct{})

	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		res.SubscriptionIDs = append(res.SubscriptionIDs, id)
	}

	for _, id := range subscriptionIDs {
		add(id)
	}

	for _, groupID := range groupIDs {
		members, err := r.groups.Subscriptions(ctx, groupID)
		if err != nil {
			r.logger.Warn().Err(err).Str("management_group", groupID).Msg("group resolution failed")
			res.GroupErrors = append(res.GroupErrors, GroupError{GroupID: groupID, Err: err})
			continue
		}
		for _, id := range members {
			add(id)
		}
		r.logger.Debug().Str("management_group", groupID).Int("subscriptions", len(members)).Msg("group resolved")
	}

	if len(res.SubscriptionIDs) == 0 {
		return res, fmt.Errorf("no subscriptions resolved from %d targets", len(subscriptionIDs)+len(groupIDs))
	}
	return res, nil
}
