// Package influxdb records block discovery statistics in InfluxDB.
//
// It wraps influxdb-client-go v2 with the non-blocking batched write API.
// The Client implements discovery.StatsSink: every completed scan becomes
// one "block_scan" point, and RecordInventory writes one
// "block_inventory" point per device category.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	scanner.SetStatsSink(client)
//
// Write errors are delivered asynchronously to the SetOnError callback.
package influxdb
