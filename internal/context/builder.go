package context

import "fmt"

// BuildContexts creates the TraceContext and RequestMeta for one inbound request
// from the raw metadata header value.
func BuildContexts(metaHeader string) (TraceContext, RequestMeta, error) {
	meta, err := ParseRequestMeta(metaHeader)
	if err != nil {
		return TraceContext{}, RequestMeta{}, fmt.Errorf("building request context: %w", err)
	}

	traceCtx := NewTraceContext().WithMeta(meta)
	return traceCtx, meta, nil
}
