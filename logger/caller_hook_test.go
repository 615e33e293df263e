package logger

import "testing"

func TestLoggerPackageResolved(t *testing.T) {
	if loggerPackage != "scalpflow/logger" {
		t.Fatalf("unexpected package path %q", loggerPackage)
	}
}

func TestIsInternalFrame(t *testing.T) {
	cases := map[string]bool{
		"github.com/sirupsen/logrus.(*Entry).log":   true,
		"scalpflow/logger.(*Entry).Warn":            true,
		"scalpflow/logger.TestIsInternalFrame":      false,
		"scalpflow/internal/engine.(*Engine).Apply": false,
		"main.main":                                 false,
	}
	for fn, want := range cases {
		if got := isInternalFrame(fn); got != want {
			t.Errorf("isInternalFrame(%q) = %v, want %v", fn, got, want)
		}
	}
}

func TestCallerPointsOutsideLogger(t *testing.T) {
	frame, ok := externalCaller(1)
	if !ok {
		t.Fatal("no external caller found")
	}
	if frame.Function != "scalpflow/logger.TestCallerPointsOutsideLogger" {
		t.Fatalf("unexpected caller %q", frame.Function)
	}
}
