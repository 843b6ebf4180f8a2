package sink

import (
	"github.com/sirupsen/logrus"

	"github.com/srg/roomsense/internal/codec"
	"github.com/srg/roomsense/internal/profile"
	"github.com/srg/roomsense/internal/session"
)

// Log writes every session notification to a logrus logger.
type Log struct {
	logger *logrus.Logger
	// ReadingLevel is the level readings are logged at. Debug by default
	// so a long-running monitor does not flood info output.
	ReadingLevel logrus.Level
}

// NewLog creates a log sink. A nil logger logs nothing.
func NewLog(logger *logrus.Logger) *Log {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.PanicLevel)
	}
	return &Log{logger: logger, ReadingLevel: logrus.DebugLevel}
}

func (l *Log) OnSessionStateChanged(state session.State, message string) {
	entry := l.logger.WithField("phase", state.String())
	if state.Reason != nil {
		entry.WithField("error", state.Reason.Error()).Warn(message)
		return
	}
	entry.Info(message)
}

func (l *Log) OnReadingDecoded(role profile.Role, reading codec.Reading, index uint64) {
	l.logger.WithFields(logrus.Fields{
		"role":      role.Name,
		"char_uuid": role.Characteristic,
		"index":     index,
		"reading":   reading.String(),
	}).Log(l.ReadingLevel, "Reading decoded")
}

func (l *Log) OnDiagnostic(d session.Diagnostic) {
	fields := logrus.Fields{"kind": d.Kind.String()}
	if d.Role.Name != "" {
		fields["role"] = d.Role.Name
	}
	if d.Characteristic != "" {
		fields["char_uuid"] = d.Characteristic
	}
	if d.Err != nil {
		fields["error"] = d.Err.Error()
	}
	l.logger.WithFields(fields).Warn(d.Message)
}

var _ session.Sink = (*Log)(nil)
