// Package store provides a generic thread-safe object store.
//
// ObjectStore backs the named lookups of the bus: flows by name, in-flight
// events kept by UntilSuccessful, and recipient lookups of the static
// recipient list router.
//
//	flows := store.New[string, *flowbus.Flow]()
//	if err := flows.Store("orders", f); err != nil {
//	    // errors.Is(err, store.ErrKeyExists)
//	}
//	f, err := flows.Retrieve("orders")
//
// Store refuses to overwrite; use Put when replacing an entry is intended.
package store
