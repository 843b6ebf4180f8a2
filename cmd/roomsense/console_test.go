//go:build test

package main

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/srg/roomsense/internal/codec"
	"github.com/srg/roomsense/internal/profile"
	"github.com/srg/roomsense/internal/session"
	"github.com/srg/roomsense/internal/testutils"
)

func TestConsoleSinkText(t *testing.T) {
	var buf bytes.Buffer
	c := newConsoleSink(&buf, "text")

	c.OnSessionStateChanged(session.State{Phase: session.PhaseReady}, "ready: streaming 3 characteristics")
	c.OnReadingDecoded(profile.Role{Name: "environment"}, codec.Environment{Temperature: 21.5, Humidity: 40}, 4)
	c.OnDiagnostic(session.Diagnostic{Kind: session.DiagDecode, Message: "dropped sound payload", Err: errors.New("too short")})

	testutils.NewTextAsserter(t).Assert(buf.String(), `
[Ready] ready: streaming 3 characteristics
environment  #4 temp=21.5 hum=40
! decode: dropped sound payload: too short
`)
	assert.NotContains(t, buf.String(), "\x1b[", "non-terminal output MUST NOT be coloured")
}

func TestConsoleSinkJSON(t *testing.T) {
	var buf bytes.Buffer
	c := newConsoleSink(&buf, "json")
	c.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	c.OnReadingDecoded(profile.Role{Name: "sound"}, codec.Sound{Count: 3}, 0)

	testutils.NewJSONAsserter(t).Assert(buf.String(), `{
		"time": "2026-03-01T12:00:00Z",
		"type": "reading",
		"role": "sound",
		"index": 0,
		"values": {"sound": 3}
	}`)
}
