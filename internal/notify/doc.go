// Package notify forwards registry events to MQTT.
//
// Every committed record is announced on hwreg/device/added and its
// current state is kept as a retained message on hwreg/device/{id}/state.
// Removal publishes hwreg/device/removed and clears the retained state.
// Scan statistics go to hwreg/system/scan. Any message on
// hwreg/command/rescan requests a new scan; hwreg/command/hotplug carries
// single-node add and remove requests.
//
// Registry listeners run on the goroutine that changed the registry, so
// the notifier only queues events there; Run drains the queue and does
// the (possibly slow) broker round trips.
package notify
