// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package smap

import (
	"fmt"
	"io"
	"os"
)

// LogLevel controls the frequency of trainer output.
type LogLevel int

const (
	// LogNoop no output is generated (level < 0)
	LogNoop LogLevel = -1
	// LogLast print only the outcome of training
	LogLast LogLevel = 0
	// LogEpoch print also train and dev loss of every epoch
	LogEpoch LogLevel = 1
	// LogBatch print also the loss of every batch
	LogBatch LogLevel = 99
)

// Logger handles logging output for the trainer.
// Note the writer must be thread-safe.
type Logger struct {
	Level LogLevel
	Msg   io.Writer // Writer to output log messages.
}

func (l *Logger) enable(level LogLevel) bool {
	return l != nil && l.Level >= level
}

func (l *Logger) log(format string, a ...any) {
	w := l.Msg
	if w == nil {
		w = os.Stdout
	}
	if len(a) > 0 {
		_, _ = fmt.Fprintf(w, format, a...)
	} else {
		_, _ = fmt.Fprint(w, format)
	}
}
