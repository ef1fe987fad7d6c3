// Package stack captures and formats a stack trace for attaching to an
// error chain. It is not meant to be used directly; see the parent
// paddockerrors package.
package stack

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	maxDepth = 8
	ellipsis = "\t..."
)

// Stack holds a snapshot of program counters.
type Stack []uintptr

// New captures a stack trace. skip is the number of frames to skip; skip=0
// records the New call itself as the innermost frame.
func New(skip int) Stack {
	pc := make([]uintptr, maxDepth+1)
	pc = pc[:runtime.Callers(skip+2, pc)]
	return Stack(pc)
}

// String renders the stack trace as human-readable text.
func (s Stack) String() string {
	var lines []string
	cf := runtime.CallersFrames(s)
	for {
		f, more := cf.Next()
		lines = append(lines, fmt.Sprintf("\tat %s (%s:%d)", f.Function, filepath.Base(f.File), f.Line))
		if !more {
			break
		}
		if len(lines) >= maxDepth {
			lines = append(lines, ellipsis)
			break
		}
	}
	return strings.Join(lines, "\n")
}
