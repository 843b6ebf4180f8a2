package session

import (
	"fmt"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/roomsense/internal/codec"
	"github.com/srg/roomsense/internal/device"
	"github.com/srg/roomsense/internal/profile"
)

type route struct {
	role  profile.Role
	order int
	next  atomic.Uint64
}

// Router maps characteristic notifications to roles, decodes them and forwards
// the readings with a per-role sample index. The role table is fixed at
// construction. Router is safe for concurrent use.
type Router struct {
	routes *hashmap.Map[string, *route]
	sink   Sink
	logger *logrus.Logger
}

// NewRouter builds a router for the roles of p.
func NewRouter(p profile.Profile, sink Sink, logger *logrus.Logger) *Router {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.PanicLevel)
	}
	if sink == nil {
		sink = NopSink{}
	}

	routes := hashmap.New[string, *route]()
	for i, role := range p.Roles {
		routes.Set(device.NormalizeUUID(role.Characteristic), &route{role: role, order: i})
	}

	return &Router{routes: routes, sink: sink, logger: logger}
}

// Lookup returns the role bound to characteristic and its position in the role table.
func (r *Router) Lookup(characteristic string) (profile.Role, int, bool) {
	rt, ok := r.routes.Get(device.NormalizeUUID(characteristic))
	if !ok {
		return profile.Role{}, -1, false
	}
	return rt.role, rt.order, true
}

// Route decodes data for the role bound to characteristic and forwards it.
// Unknown characteristics and undecodable payloads become diagnostics; a
// dropped payload does not consume an index.
func (r *Router) Route(characteristic string, data []byte) {
	key := device.NormalizeUUID(characteristic)
	rt, ok := r.routes.Get(key)
	if !ok {
		r.logger.WithField("char_uuid", characteristic).Debug("Notification from unrecognized characteristic")
		r.sink.OnDiagnostic(Diagnostic{
			Kind:           DiagUnrecognized,
			Characteristic: characteristic,
			Message:        fmt.Sprintf("unrecognized characteristic %s (%d bytes)", characteristic, len(data)),
		})
		return
	}

	reading, err := codec.Decode(rt.role.Layout, data)
	if err != nil {
		r.logger.WithFields(logrus.Fields{
			"role":      rt.role.Name,
			"char_uuid": key,
			"error":     err,
		}).Warn("Dropping undecodable payload")
		r.sink.OnDiagnostic(Diagnostic{
			Kind:           DiagDecode,
			Role:           rt.role,
			Characteristic: key,
			Message:        fmt.Sprintf("dropped %s payload", rt.role.Name),
			Err:            err,
		})
		return
	}

	index := rt.next.Add(1) - 1
	r.sink.OnReadingDecoded(rt.role, reading, index)
}

// Reset restarts every role's index at 0.
func (r *Router) Reset() {
	r.routes.Range(func(_ string, rt *route) bool {
		rt.next.Store(0)
		return true
	})
}
