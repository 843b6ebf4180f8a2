package main

import (
	"errors"
	"fmt"

	"github.com/srg/roomsense/internal/codec"
	"github.com/srg/roomsense/internal/device"
	"github.com/srg/roomsense/internal/session"
)

// Command-level errors
var (
	// ErrConnectionLost means the unit disconnected while being monitored.
	ErrConnectionLost = errors.New("connection lost")
)

// FormatUserError renders err for the terminal.
func FormatUserError(err error) string {
	var (
		failure  *session.Failure
		notFound *device.NotFoundError
		decode   *codec.DecodeError
	)
	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off; enable it and try again"
	case errors.As(err, &failure):
		switch failure.Kind {
		case session.FailureServiceNotFound, session.FailureCharacteristicNotFound:
			return fmt.Sprintf("%s (is this a roomsense unit? try --profile)", failure.Error())
		case session.FailureTimeout:
			return fmt.Sprintf("%s (is the unit in range and advertising?)", failure.Error())
		}
		return failure.Error()
	case errors.As(err, &notFound):
		return notFound.Error()
	case errors.As(err, &decode):
		return decode.Error()
	}
	return err.Error()
}
