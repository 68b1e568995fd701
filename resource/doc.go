// Package resource provides integer handle tables for host-visible values.
//
// Host environments cannot hold Go pointers, so each live object handed to
// them is named by a Handle:
//
//	table := resource.NewTable[*Session]()
//
//	// Insert a value, get a handle
//	handle, err := table.Insert(session)
//
//	// Retrieve value by handle
//	session, ok := table.Get(handle)
//
//	// Remove drops the value (calling Drop if it implements Dropper)
//	session, ok, err := table.Remove(ctx, handle)
//
// Handle 0 is never issued, and handles are not reused after removal: a
// handle that outlives its value resolves to nothing instead of to an
// unrelated object.
//
// # Observers
//
// Register observers to track lifecycle events:
//
//	unsubscribe := table.Subscribe(resource.ObserverFunc(func(e resource.Event) {
//	    log.Printf("handle %d %s", e.Handle, e.Type)
//	}))
//	defer unsubscribe()
//
// # Memory Management
//
// Values are not garbage collected while they are in the table. The host
// must Remove what it no longer uses, or Close the table to drop everything.
package resource
