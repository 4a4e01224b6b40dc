package extract

import (
	"context"

	"go.uber.org/zap"
)

// strategy is one way of finding items on a page. Strategies are tried in
// order and the first one that finds anything wins.
type strategy[T any] struct {
	name string
	find func(ctx context.Context) ([]T, error)
}

// cascade runs strategies until one returns items. Strategy errors other
// than cancellation are logged and treated as "found nothing".
func cascade[T any](ctx context.Context, logger *zap.Logger, what string, strategies []strategy[T]) ([]T, string, error) {
	for _, s := range strategies {
		items, err := s.find(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, "", ctxErr
		}
		if err != nil {
			logger.Debug("extraction strategy failed", zap.String("what", what), zap.String("strategy", s.name), zap.Error(err))
			continue
		}
		if len(items) > 0 {
			logger.Debug("extraction strategy matched", zap.String("what", what), zap.String("strategy", s.name), zap.Int("count", len(items)))
			return items, s.name, nil
		}
	}
	return nil, "", nil
}
