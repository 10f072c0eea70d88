// Package live keeps query results current: the server re-runs a query on
// every change-stream event and the client holds the latest snapshot.
package live

import "github.com/google/go-cmp/cmp"

// Equal reports whether two snapshots are structurally equal. Types with an
// Equal method, such as time.Time, are compared through it, so two times
// naming the same instant are equal whatever their location.
func Equal[T any](a, b T) bool {
	return cmp.Equal(a, b)
}
