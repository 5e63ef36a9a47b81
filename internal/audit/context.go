package audit

import "context"

// Meta describes the client behind a request.
type Meta struct {
	IPAddress string
	UserAgent string
}

type metaKey struct{}

// WithMeta returns a context carrying request metadata for audit entries.
func WithMeta(ctx context.Context, meta Meta) context.Context {
	return context.WithValue(ctx, metaKey{}, meta)
}

// MetaFromContext returns the metadata stored by WithMeta, or the zero value.
func MetaFromContext(ctx context.Context) Meta {
	if ctx == nil {
		return Meta{}
	}
	meta, _ := ctx.Value(metaKey{}).(Meta)
	return meta
}
