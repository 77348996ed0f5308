// Package pool bridges a pool-equipment controller to the Gray Logic MQTT bus.
//
// The bridge owns a poolcontroller session. It discovers the controller's
// circuits on start, polls them on a fixed interval and publishes a retained
// state message for each circuit whose state changed:
//
//	graylogic/state/pool/{circuit}      retained StateMessage
//	graylogic/discovery/pool            retained DiscoveryMessage
//	graylogic/health/pool               retained HealthMessage
//
// Commands and requests arrive on:
//
//	graylogic/command/pool/{circuit}    CommandMessage → AckMessage on graylogic/ack/pool/{circuit}
//	graylogic/request/pool/{request_id} RequestMessage → ResponseMessage on graylogic/response/pool/{request_id}
//
// Supported commands are on, off, toggle, set_target_temperature and
// set_heater_mode. Requests are read_state, read_all and discover.
//
// Every published state change is also recorded in the circuit history
// table, written to InfluxDB and reflected in the Prometheus gauges when
// those collaborators are configured.
package pool
