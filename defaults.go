package kvcache

// Coalesce returns def when v is the zero value of T - otherwise v.
// Exported so store packages apply defaults the same way.
func Coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
