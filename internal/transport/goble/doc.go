// Package goble implements the gatt transport on top of github.com/go-ble/ble.
//
// go-ble exposes a blocking API: Dial, DiscoverProfile and Subscribe return
// only when the controller has answered. The Link here runs each of those on
// its own goroutine and reports the outcome as a gatt.Event, so the session
// sees the same completion-driven contract as with any other transport.
//
// go-ble writes the Client Characteristic Configuration descriptor itself as
// part of Subscribe. WriteDescriptor therefore accepts only CCCD writes and
// maps them onto Subscribe and Unsubscribe.
package goble
