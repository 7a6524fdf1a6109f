// Package fanout contains the notification creation and delivery core:
// audience resolution and batched dispatch through the push gateway.
package fanout

import (
	"context"
	"fmt"

	"github.com/tinywideclouds/go-campus-notify/pkg/dispatch"
	"github.com/tinywideclouds/go-campus-notify/pkg/notify"
)

// Resolver turns a notification's declared audience into the concrete,
// deduplicated list of device tokens to target.
type Resolver struct {
	tokens dispatch.TokenStore
}

func NewResolver(tokens dispatch.TokenStore) *Resolver {
	return &Resolver{tokens: tokens}
}

// Resolve produces the token set for a recipient type. A broadcast that
// resolves to zero tokens fails with ErrNoTargets; an individual recipient
// with no devices resolves to an empty set without error, so the caller can
// still persist the record's terminal status.
func (r *Resolver) Resolve(ctx context.Context, rt notify.RecipientType, recipientID string) ([]string, error) {
	var populations []string
	switch rt {
	case notify.RecipientIndividual:
		tokens, err := r.tokens.TokensForIndividual(ctx, recipientID)
		if err != nil {
			return nil, fmt.Errorf("resolving tokens for recipient %s: %w", recipientID, err)
		}
		return dedupe(tokens), nil
	case notify.RecipientAllStudents:
		populations = []string{dispatch.PopulationStudents}
	case notify.RecipientAllFaculty:
		populations = []string{dispatch.PopulationFaculty}
	case notify.RecipientStudentsAndFaculty, notify.RecipientEveryone:
		populations = []string{dispatch.PopulationStudents, dispatch.PopulationFaculty}
	default:
		return nil, fmt.Errorf("%w: unresolvable recipient type %q", notify.ErrInvalidNotification, rt)
	}

	var all []string
	for _, p := range populations {
		tokens, err := r.tokens.TokensForPopulation(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("resolving tokens for population %s: %w", p, err)
		}
		all = append(all, tokens...)
	}
	all = dedupe(all)
	if len(all) == 0 {
		return nil, fmt.Errorf("%w: no devices registered for %s", notify.ErrNoTargets, rt)
	}
	return all, nil
}

// dedupe removes repeated tokens while preserving first-seen order, so a
// device registered under multiple memberships is sent to exactly once.
func dedupe(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
