package utils

import (
	"context"

	"github.com/edgeaimedia/carousel_backend/appctx"
)

var (
	ContextKeyGenerationId  = appctx.ContextKeyGenerationId
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
)

func GetGenerationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyGenerationId)
}

func SetGenerationIdInContext(ctx context.Context, generationId string) context.Context {
	return appctx.Set(ctx, ContextKeyGenerationId, generationId)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}
