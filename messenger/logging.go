////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package messenger

import (
	"io"
	"log"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// LogLevel sets the logging threshold for both the log output and stdout.
// Levels run from 0 (TRACE) through DEBUG, INFO, WARN, ERROR and CRITICAL to
// 6 (FATAL). Without a call the threshold is INFO.
func LogLevel(level int) error {
	threshold := jww.Threshold(level)
	if threshold < jww.LevelTrace || threshold > jww.LevelFatal {
		return errors.Errorf("log level is not valid: log level: %d", level)
	}

	jww.SetLogThreshold(threshold)
	jww.SetStdoutThreshold(threshold)
	jww.SetFlags(log.LstdFlags | log.Lmicroseconds)

	notepad(threshold).Printf("Log level set to: %s", threshold)
	return nil
}

// notepad returns the lowest logger still printed at the threshold.
func notepad(threshold jww.Threshold) *log.Logger {
	switch {
	case threshold <= jww.LevelInfo:
		return jww.INFO
	case threshold == jww.LevelWarn:
		return jww.WARN
	case threshold == jww.LevelError:
		return jww.ERROR
	case threshold == jww.LevelCritical:
		return jww.CRITICAL
	default:
		return jww.FATAL
	}
}

// SetLogOutput sends log output at the logging threshold to w.
func SetLogOutput(w io.Writer) {
	jww.SetLogOutput(w)
}
