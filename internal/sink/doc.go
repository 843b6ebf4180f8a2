// Package sink holds the session.Sink implementations used by the CLI:
// structured logging, fan-out, a bounded in-memory recorder and an MQTT
// forwarder.
package sink
