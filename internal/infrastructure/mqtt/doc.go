// Package mqtt wraps the Eclipse Paho client for publishing registry events.
//
// The client connects once, reconnects automatically, and restores its
// subscriptions after every reconnect. A retained status message on
// hwreg/system/status (with a matching last will) tells subscribers whether
// the daemon is alive.
//
// Topic layout (see Topics):
//
//	hwreg/device/added          one message per committed record
//	hwreg/device/removed        one message per removed record
//	hwreg/device/{id}/state     retained snapshot of a record
//	hwreg/command/rescan        inbound: request a full scan
//	hwreg/command/hotplug       inbound: {"action":"add|remove","path":...}
//	hwreg/system/status         retained online/offline status
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Publish(mqtt.Topics{}.DeviceAdded(), payload, 1, false)
package mqtt
