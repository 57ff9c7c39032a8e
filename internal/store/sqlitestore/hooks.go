package sqlitestore

import (
	"context"
	"time"

	"github.com/seung-lab/chunkedgraph-go/pkg/cglog"
)

type queryTimerKey struct{}

// hooks satisfies sqlhooks.Hooks, logging every query and its latency.
type hooks struct{}

func (h *hooks) Before(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	cglog.Debugf("sql: %s %q", query, args)
	return context.WithValue(ctx, queryTimerKey{}, time.Now()), nil
}

func (h *hooks) After(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	if begin, ok := ctx.Value(queryTimerKey{}).(time.Time); ok {
		cglog.Debugf("sql: took %s", time.Since(begin))
	}
	return ctx, nil
}
