// README: logrus setup with optional lumberjack file rotation.
package infra

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger builds a logger at level writing to stderr, or to a rotated file when path
// is non-empty. Unknown levels fall back to info.
func NewLogger(level, path string) *logrus.Logger {
	log := logrus.New()
	var out io.Writer = os.Stderr
	if path != "" {
		out = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    32, // megabytes
			MaxBackups: 2,
			MaxAge:     28, // days
			Compress:   true,
		}
	}
	log.SetOutput(out)
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	log.SetFormatter(&logrus.TextFormatter{
		PadLevelText:    true,
		DisableColors:   path != "",
		FullTimestamp:   true,
		TimestampFormat: time.DateTime,
	})
	return log
}
