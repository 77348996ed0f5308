// Package mqtt connects the pool bridge to an MQTT broker.
//
// The bridge publishes circuit state, acknowledgements and health on the
// graylogic/* hierarchy and receives commands and requests from it. This
// package only handles the connection:
//
//   - Connect and ConnectWithRetry (exponential backoff via cenkalti/backoff)
//   - Publish/Subscribe with QoS and payload validation
//   - Subscription restore after automatic reconnect
//   - Retained online/offline status with a Last Will for crashes
//
// # Usage
//
//	client, err := mqtt.ConnectWithRetry(ctx, cfg.MQTT, 5, logger)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe("graylogic/command/pool/#", 1,
//	    func(topic string, payload []byte) error {
//	        return handle(topic, payload)
//	    })
//
// Broker-backed tests are behind the "integration" build tag and expect a
// broker on 127.0.0.1:1883.
package mqtt
