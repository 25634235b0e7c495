// Package api implements the read-only HTTP query API and the WebSocket
// event stream for the hwreg device registry.
//
// Routes live under /api/v1:
//
//	GET /health                          component health and record count
//	GET /devices                         list, filtered by bus, category, capability, parent
//	GET /devices/{id}                    one record
//	GET /devices/{id}/properties/{key}   one property
//	GET /scan                            statistics of the last completed scan
//	GET /audit                           registry history, newest first
//	GET /ws                              event stream
//
// WebSocket clients subscribe to channels (device.added, device.removed,
// device.changed, scan.completed) and receive events relayed from the
// registry and the scanner. There are no mutating endpoints; records are
// only created by discovery.
package api
