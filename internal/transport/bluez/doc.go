// Package bluez implements the gatt transport on tinygo.org/x/bluetooth,
// which talks to BlueZ over D-Bus on Linux and to CoreBluetooth and WinRT
// elsewhere.
//
// The tinygo adapter is process-wide and reports disconnections through one
// connect handler, so a single Central does both scanning and dialing. A
// Central remembers the platform address of every peripheral it has seen
// advertising; dialing an address it has not seen runs a short scan first.
package bluez
