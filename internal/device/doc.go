// Package device holds the transport-neutral pieces shared by every BLE backend:
//
//   - Peripheral, the immutable handle of a discovered sensor
//   - typed errors for missing GATT resources and connection state problems
//   - UUID and address normalisation so lookups work regardless of formatting
package device
