package common

import (
	"flag"
	"os"
	"path/filepath"
	"time"

	"github.com/Laisky/zap"

	"github.com/relaymesh/gateway/common/config"
	"github.com/relaymesh/gateway/common/logger"
)

var (
	Port         = flag.Int("port", 3000, "the listening port")
	PrintVersion = flag.Bool("version", false, "print version and exit")
	PrintHelp    = flag.Bool("help", false, "print help and exit")
	LogDir       = flag.String("log-dir", "./logs", "specify the log directory")
)

// Version is stamped at build time via -ldflags; "dev" otherwise.
var Version = "dev"

// StartTime is the process start time, used for uptime reporting.
var StartTime = time.Now().Unix()

func Init() {
	flag.Parse()

	SQLitePath = config.SQLitePath
	if *LogDir != "" {
		expanded := expandLogDirPath(*LogDir)
		lg := logger.Logger.With(zap.String("log_dir", expanded))
		lg.Debug("starting to set log dir")

		var err error
		expanded, err = filepath.Abs(expanded)
		if err != nil {
			lg.Fatal("failed to get absolute log dir", zap.Error(err))
		}

		if err = os.MkdirAll(expanded, 0o777); err != nil {
			lg.Fatal("failed to create log dir", zap.Error(err))
		}

		lg.Info("set log dir", zap.String("log_dir", expanded))
		logger.LogDir = expanded
		*LogDir = expanded
	}
}
