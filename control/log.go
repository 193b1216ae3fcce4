// control/log.go
// Author: momentics <momentics@gmail.com>
//
// Global structured logger setup.

package control

import (
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
)

// InitLogger replaces the global logger. An empty file logs to stderr.
func InitLogger(level, file string) error {
	cfg := &log.Config{
		Level: level,
		File:  log.FileLogConfig{Filename: file},
	}
	logger, props, err := log.InitLogger(cfg)
	if err != nil {
		return errors.Annotatef(err, "init logger level=%s", level)
	}
	log.ReplaceGlobals(logger, props)
	return nil
}
