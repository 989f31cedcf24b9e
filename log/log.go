// Copyright 2017 The go-probeum Authors
// This file is part of the go-probeum library.
//
// The go-probeum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-probeum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-probeum library. If not, see <http://www.gnu.org/licenses/>.

// Package log implements the leveled, key-value structured logger used
// throughout this module. Call sites look like:
//
//	log.Info("accepted inbound connection", "peer", id, "addr", addr)
//
// never bare fmt.Println or the standard library's "log" package.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Lvl is the level of a log record.
type Lvl int

const (
	LvlCrit Lvl = iota
	LvlError
	LvlWarn
	LvlInfo
	LvlDebug
	LvlTrace
)

func (l Lvl) String() string {
	switch l {
	case LvlCrit:
		return "CRIT"
	case LvlError:
		return "ERROR"
	case LvlWarn:
		return "WARN"
	case LvlInfo:
		return "INFO"
	case LvlDebug:
		return "DEBUG"
	case LvlTrace:
		return "TRACE"
	default:
		return "UNKNOWN"
	}
}

var levelColor = map[Lvl]*color.Color{
	LvlCrit:  color.New(color.FgMagenta, color.Bold),
	LvlError: color.New(color.FgRed),
	LvlWarn:  color.New(color.FgYellow),
	LvlInfo:  color.New(color.FgGreen),
	LvlDebug: color.New(color.FgCyan),
	LvlTrace: color.New(color.FgWhite),
}

// Record is a single log event.
type Record struct {
	Time  time.Time
	Lvl   Lvl
	Msg   string
	Ctx   []interface{}
	Call  stack.Call
}

// Logger writes leveled records, optionally carrying a fixed context that is
// appended to every record it emits.
type Logger interface {
	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	Crit(msg string, ctx ...interface{})
	New(ctx ...interface{}) Logger
}

type logger struct {
	ctx []interface{}
}

var (
	root   = &logger{}
	mu     sync.Mutex
	out    io.Writer = colorableStderr()
	useClr           = isatty.IsTerminal(os.Stderr.Fd())
	level  Lvl        = LvlInfo
)

func colorableStderr() io.Writer {
	return colorable.NewColorableStderr()
}

// SetOutput redirects every future record to w.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

// SetLevel sets the minimum level that is actually written.
func SetLevel(l Lvl) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

// New returns a Logger that prefixes every record with ctx, in addition to
// whatever per-call context is supplied.
func New(ctx ...interface{}) Logger {
	return root.New(ctx...)
}

func (l *logger) New(ctx ...interface{}) Logger {
	combined := make([]interface{}, 0, len(l.ctx)+len(ctx))
	combined = append(combined, l.ctx...)
	combined = append(combined, ctx...)
	return &logger{ctx: combined}
}

func (l *logger) write(lvl Lvl, msg string, ctx []interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if lvl > level {
		return
	}
	r := Record{
		Time: time.Now(),
		Lvl:  lvl,
		Msg:  msg,
		Ctx:  append(append([]interface{}{}, l.ctx...), ctx...),
		Call: stack.Caller(2),
	}
	fmt.Fprint(out, format(r, useClr))
}

func format(r Record, colored bool) string {
	levelStr := r.Lvl.String()
	if colored {
		if c, ok := levelColor[r.Lvl]; ok {
			levelStr = c.Sprint(levelStr)
		}
	}
	line := fmt.Sprintf("%s[%-5s] %s", r.Time.Format("2006-01-02T15:04:05-0700"), levelStr, r.Msg)
	for i := 0; i+1 < len(r.Ctx); i += 2 {
		line += fmt.Sprintf(" %v=%v", r.Ctx[i], r.Ctx[i+1])
	}
	return line + "\n"
}

func (l *logger) Trace(msg string, ctx ...interface{}) { l.write(LvlTrace, msg, ctx) }
func (l *logger) Debug(msg string, ctx ...interface{}) { l.write(LvlDebug, msg, ctx) }
func (l *logger) Info(msg string, ctx ...interface{})  { l.write(LvlInfo, msg, ctx) }
func (l *logger) Warn(msg string, ctx ...interface{})  { l.write(LvlWarn, msg, ctx) }
func (l *logger) Error(msg string, ctx ...interface{}) { l.write(LvlError, msg, ctx) }
func (l *logger) Crit(msg string, ctx ...interface{})  { l.write(LvlCrit, msg, ctx) }

// Package-level convenience functions writing through the root logger.
func Trace(msg string, ctx ...interface{}) { root.Trace(msg, ctx...) }
func Debug(msg string, ctx ...interface{}) { root.Debug(msg, ctx...) }
func Info(msg string, ctx ...interface{})  { root.Info(msg, ctx...) }
func Warn(msg string, ctx ...interface{})  { root.Warn(msg, ctx...) }
func Error(msg string, ctx ...interface{}) { root.Error(msg, ctx...) }
func Crit(msg string, ctx ...interface{})  { root.Crit(msg, ctx...) }
