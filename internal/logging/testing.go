package logging

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger records every entry, Trace included, for assertions.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

func NewTestLogger() *TestLogger {
	core, observed := observer.New(TraceLevel)
	return &TestLogger{
		Logger:   &Logger{zap: zap.New(core), config: NewDefaultConfig()},
		observed: observed,
	}
}

// Count returns how many entries contain msg.
func (t *TestLogger) Count(msg string) int {
	return t.observed.FilterMessage(msg).Len()
}

// fieldValue returns the value of key in entry as a comparable value.
func fieldValue(entry observer.LoggedEntry, key string) (any, bool) {
	v, ok := entry.ContextMap()[key]
	return v, ok
}

func (t *TestLogger) summary() string {
	var b strings.Builder
	for _, e := range t.observed.All() {
		fmt.Fprintf(&b, "\n  %s %q %v", e.Level, e.Message, e.ContextMap())
	}
	return b.String()
}

// AssertLogged fails tb unless an entry at level contains msg.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, msg string) {
	tb.Helper()
	for _, e := range t.observed.FilterMessage(msg).All() {
		if e.Level == level {
			return
		}
	}
	tb.Errorf("no %s entry containing %q; got:%s", level, msg, t.summary())
}

// AssertField fails tb unless an entry containing msg has key equal to
// expected. Integer fields compare as int64.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, expected any) {
	tb.Helper()
	for _, e := range t.observed.FilterMessage(msg).All() {
		if got, ok := fieldValue(e, key); ok && reflect.DeepEqual(got, expected) {
			return
		}
	}
	tb.Errorf("no entry containing %q with %s=%v; got:%s", msg, key, expected, t.summary())
}

// AssertTraceCorrelation fails tb unless an entry containing msg carries
// a trace id.
func (t *TestLogger) AssertTraceCorrelation(tb testing.TB, msg string) {
	tb.Helper()
	for _, e := range t.observed.FilterMessage(msg).All() {
		if _, ok := fieldValue(e, fieldTraceID); ok {
			return
		}
	}
	tb.Errorf("no entry containing %q has %s", msg, fieldTraceID)
}

// AssertNoSecrets fails tb when a message or string field matches a default
// redaction pattern, or a sensitive key holds an unmasked value.
func (t *TestLogger) AssertNoSecrets(tb testing.TB) {
	tb.Helper()
	red := NewDefaultConfig().Redaction
	patterns := make([]*regexp.Regexp, len(red.Patterns))
	for i, p := range red.Patterns {
		patterns[i] = regexp.MustCompile(p)
	}
	leaks := func(s string) bool {
		for _, re := range patterns {
			if re.MatchString(s) {
				return true
			}
		}
		return false
	}

	for _, e := range t.observed.All() {
		if leaks(e.Message) {
			tb.Errorf("secret in message %q", e.Message)
		}
		for _, f := range e.Context {
			if f.Type != zapcore.StringType {
				continue
			}
			if leaks(f.String) {
				tb.Errorf("secret in field %q of %q", f.Key, e.Message)
			}
			if f.String != "" && !strings.HasPrefix(f.String, "[REDACTED") && sensitiveKey(f.Key, red.Fields) {
				tb.Errorf("field %q of %q is not redacted", f.Key, e.Message)
			}
		}
	}
}

func sensitiveKey(key string, names []string) bool {
	key = strings.ToLower(key)
	for _, n := range names {
		if strings.Contains(key, n) {
			return true
		}
	}
	return false
}
