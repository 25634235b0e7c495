// Package device provides the registry of committed hardware records.
//
// A Device is a flat record: an identifier, a bus tag, a category, an
// ordered capability set and a property map keyed by the names in keys.go.
// The Registry keeps every record in an in-memory cache backed by a
// Repository (SQLite in production) and is the only place identifiers are
// checked for uniqueness.
//
// Besides CRUD the registry offers what the block classifier needs from its
// surroundings:
//
//   - WaitForProperty blocks until a record with a given property value is
//     inserted, which is how children wait for their parent to appear.
//   - PhysicalDevice walks the parent chain to the first record that is not
//     itself backed by another device.
//   - Subscribe delivers added, removed and property_changed events to the
//     MQTT notifier and the websocket hub.
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//	registry := device.NewRegistry(repo)
//	registry.SetLogger(log.With("component", "registry"))
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	registry.Subscribe(func(e device.Event) {
//	    fmt.Println(e.Type, e.Device.ID)
//	})
package device
