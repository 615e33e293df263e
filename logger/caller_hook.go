package logger

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// loggerPackage is the import path of this package, resolved at start up so
// the hook keeps working if the module is renamed.
var loggerPackage = func() string {
	pc, _, _, _ := runtime.Caller(0)
	name := runtime.FuncForPC(pc).Name()
	// name looks like "scalpflow/logger.init.func1"
	if slash := strings.LastIndex(name, "/"); slash >= 0 {
		if dot := strings.Index(name[slash:], "."); dot >= 0 {
			return name[:slash+dot]
		}
	}
	if dot := strings.Index(name, "."); dot >= 0 {
		return name[:dot]
	}
	return name
}()

// callerHook points entry.Caller at the first frame outside logrus and the
// Log/Entry wrappers.
type callerHook struct{}

func (h *callerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *callerHook) Fire(entry *logrus.Entry) error {
	if frame, ok := externalCaller(4); ok {
		entry.Caller = &frame
	}
	return nil
}

func externalCaller(skip int) (runtime.Frame, bool) {
	pcs := make([]uintptr, 24)
	n := runtime.Callers(skip, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !isInternalFrame(frame.Function) {
			return frame, true
		}
		if !more {
			return runtime.Frame{}, false
		}
	}
}

func isInternalFrame(fn string) bool {
	if strings.Contains(fn, "sirupsen/logrus") {
		return true
	}
	// methods and functions of this package, but not its tests
	if strings.HasPrefix(fn, loggerPackage+".") {
		return !strings.Contains(fn, ".Test")
	}
	return false
}
