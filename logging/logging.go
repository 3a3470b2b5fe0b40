/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package logging is the structured logging facade used across this module: a
// small Logger interface backed by logrus, so every package logs through the
// same field-carrying, leveled entry instead of the standard library's bare
// log.Logger.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Level mirrors the subset of logrus levels this module's components actually
// emit.
type Level uint32

const (
	DebugLevel Level = Level(logrus.DebugLevel)
	InfoLevel  Level = Level(logrus.InfoLevel)
	WarnLevel  Level = Level(logrus.WarnLevel)
	ErrorLevel Level = Level(logrus.ErrorLevel)
)

// Logger is the structured, leveled logging contract every package in this
// module accepts instead of depending on logrus directly. Fields are passed as
// alternating key/value pairs, logrus.Fields style.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	// With returns a child Logger that always carries the given fields.
	With(kv ...any) Logger
}

type logger struct {
	entry *logrus.Entry
}

// New builds a Logger writing JSON-formatted entries to w at the given level.
// A nil w defaults to os.Stderr.
func New(level Level, w io.Writer) Logger {
	if w == nil {
		w = os.Stderr
	}
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.Level(level))
	l.SetFormatter(&logrus.JSONFormatter{})
	return &logger{entry: logrus.NewEntry(l)}
}

func fields(kv []any) logrus.Fields {
	f := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		f[key] = kv[i+1]
	}
	return f
}

func (l *logger) Debug(msg string, kv ...any) { l.entry.WithFields(fields(kv)).Debug(msg) }
func (l *logger) Info(msg string, kv ...any)  { l.entry.WithFields(fields(kv)).Info(msg) }
func (l *logger) Warn(msg string, kv ...any)  { l.entry.WithFields(fields(kv)).Warn(msg) }
func (l *logger) Error(msg string, kv ...any) { l.entry.WithFields(fields(kv)).Error(msg) }

func (l *logger) With(kv ...any) Logger {
	return &logger{entry: l.entry.WithFields(fields(kv))}
}

// Discard is a Logger that drops every entry, used as a safe default when a
// caller does not configure logging.
var Discard Logger = &discard{}

type discard struct{}

func (discard) Debug(string, ...any)    {}
func (discard) Info(string, ...any)     {}
func (discard) Warn(string, ...any)     {}
func (discard) Error(string, ...any)    {}
func (d discard) With(...any) Logger    { return d }
