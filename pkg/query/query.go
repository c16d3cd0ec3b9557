// Package query resolves a user's question against an external, context-
// aware answering service. It does not itself maintain conversational
// memory beyond what that service provides.
package query

import "context"

// Answer is the resolver's response to one query.
type Answer struct {
	Text       string
	Intent     string
	Confidence float64
}

// Resolver answers a single query on behalf of userID.
type Resolver interface {
	Resolve(ctx context.Context, userID, queryText string) (Answer, error)
}
