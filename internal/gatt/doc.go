// Package gatt is the contract between the session state machine and a BLE
// transport.
//
// A Dialer opens a Link to one peripheral. Requests issued on a Link return
// as soon as they are submitted; their completions come back later as typed
// Events through the Handler given to Dial. Transports may deliver events on
// any goroutine but must never invoke the handler synchronously from inside a
// Link method.
package gatt
