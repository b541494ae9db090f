// Package logging wraps logrus with the bridge's two log-capture
// destinations: an in-memory ring for real-time consumers and a handoff to
// the persistence batcher for the session archive. See spec §4.4/§4.5.
package logging

import (
	"time"

	"github.com/sirupsen/logrus"
)

var root = newRootLogger()

func newRootLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return l
}

// SetLevel adjusts the root logger's minimum level, shared by every
// service logger returned from ForService.
func SetLevel(level logrus.Level) {
	root.SetLevel(level)
}

// AddHook registers a logrus.Hook on the root logger, used to wire the
// RingHook during startup.
func AddHook(hook logrus.Hook) {
	root.AddHook(hook)
}

// ForService returns a logger entry tagged with the originating component,
// used by the Log Capture Layer to synthesize a log entry's source field.
func ForService(name string) *logrus.Entry {
	return root.WithField("service", name)
}
