package gatt

import "fmt"

// Event is one inbound transport callback.
type Event interface {
	isEvent()
	fmt.Stringer
}

// Handler receives the events of one Link. A transport may call it from any
// goroutine, including synchronously from inside Dial or a Link request, but
// never concurrently with itself and never while holding a lock the handler
// could need, such as one Release or another request takes.
type Handler func(Event)

// ConnectionStateChanged reports that the link came up, went down, or failed to
// come up. Connected=false with a success status is a clean disconnect.
type ConnectionStateChanged struct {
	Status    Status
	Connected bool
}

// ServicesDiscovered completes a DiscoverServices request.
type ServicesDiscovered struct {
	Status   Status
	Services []Service
}

// DescriptorWritten completes a WriteDescriptor request.
type DescriptorWritten struct {
	Descriptor DescriptorID
	Status     Status
}

// CharacteristicChanged carries a notification or indication payload.
type CharacteristicChanged struct {
	Characteristic string
	Data           []byte
}

func (ConnectionStateChanged) isEvent() {}
func (ServicesDiscovered) isEvent() {}
func (DescriptorWritten) isEvent() {}
func (CharacteristicChanged) isEvent() {}

func (e ConnectionStateChanged) String() string {
	state := "disconnected"
	if e.Connected {
		state = "connected"
	}
	return fmt.Sprintf("connection %s: %s", state, e.Status)
}

func (e ServicesDiscovered) String() string {
	return fmt.Sprintf("services discovered (%d): %s", len(e.Services), e.Status)
}

func (e DescriptorWritten) String() string {
	return fmt.Sprintf("descriptor written %s: %s", e.Descriptor, e.Status)
}

func (e CharacteristicChanged) String() string {
	return fmt.Sprintf("characteristic %s changed (%d bytes)", e.Characteristic, len(e.Data))
}
