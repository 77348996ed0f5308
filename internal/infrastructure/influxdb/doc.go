// Package influxdb records pool telemetry in InfluxDB v2.
//
// Every refresh of a circuit or thermostat can be written as a point so
// pump runtimes and water temperatures can be graphed over time:
//
//	pool_circuit,circuit=6,kind=pool,name=Pool on=true
//	pool_thermostat,circuit=6,name=Pool current_temp=82,target_temp=84,heater_mode=1i
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.WriteCircuitState(6, "Pool", "pool", true, time.Now())
//
// Writes are non-blocking and batched (batch_size, flush_interval).
// Asynchronous failures are delivered to the SetOnError callback.
package influxdb
