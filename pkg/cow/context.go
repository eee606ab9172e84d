package cow

import "context"

type providerCtxKey struct{}

func FromContext(ctx context.Context) *Provider {
	provider, ok := ctx.Value(providerCtxKey{}).(*Provider)
	if !ok {
		return nil
	}
	return provider
}

func IntoContext(ctx context.Context, provider *Provider) context.Context {
	return context.WithValue(ctx, providerCtxKey{}, provider)
}
