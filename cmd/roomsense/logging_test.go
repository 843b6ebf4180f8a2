package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoggingCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "x"}
	cmd.Flags().String("log-level", "", "")
	cmd.Flags().Bool("verbose", false, "")
	cmd.SetErr(&bytes.Buffer{})
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func TestConfigureLogger(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want logrus.Level
	}{
		{"fallback", nil, logrus.WarnLevel},
		{"verbose", []string{"--verbose"}, logrus.DebugLevel},
		{"log-level wins over verbose", []string{"--verbose", "--log-level", "error"}, logrus.ErrorLevel},
		{"info", []string{"--log-level", "info"}, logrus.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := configureLogger(newLoggingCmd(t, tt.args...), defaultLogLevel)
			require.NoError(t, err)
			assert.Equal(t, tt.want, logger.GetLevel())

			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			require.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func TestConfigureLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := configureLogger(newLoggingCmd(t, "--log-level", "trace"), defaultLogLevel)
	assert.ErrorContains(t, err, "invalid log level: trace")
}
