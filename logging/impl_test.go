package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"go.viam.com/test"
)

func newBufferLogger(name string, level Level) (*impl, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	logger := newImpl(name, level, true, NewWriterAppender(buf))
	logger.registry = nil
	return logger, buf
}

func readLine(t *testing.T, buf *bytes.Buffer) []string {
	t.Helper()
	line, err := buf.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)
	return strings.Split(strings.TrimSuffix(line, "\n"), "\t")
}

func TestConsoleOutputFormat(t *testing.T) {
	logger, buf := newBufferLogger("rgbd", DEBUG)

	logger.Info("plain info")
	parts := readLine(t, buf)
	test.That(t, parts, test.ShouldHaveLength, 5)
	test.That(t, parts[1], test.ShouldEqual, "INFO")
	test.That(t, parts[2], test.ShouldEqual, "rgbd")
	test.That(t, strings.HasPrefix(parts[3], "logging/impl_test.go:"), test.ShouldBeTrue)
	test.That(t, parts[4], test.ShouldEqual, "plain info")

	logger.Debugf("fmt %d", 7)
	parts = readLine(t, buf)
	test.That(t, parts[1], test.ShouldEqual, "DEBUG")
	test.That(t, parts[4], test.ShouldEqual, "fmt 7")

	logger.Warnw("with fields", "camera", "depth", "fps", 30)
	parts = readLine(t, buf)
	test.That(t, parts, test.ShouldHaveLength, 6)
	fields := map[string]interface{}{}
	test.That(t, json.Unmarshal([]byte(parts[5]), &fields), test.ShouldBeNil)
	test.That(t, fields, test.ShouldResemble, map[string]interface{}{"camera": "depth", "fps": float64(30)})
}

func TestLevels(t *testing.T) {
	logger, buf := newBufferLogger("rgbd", WARN)
	logger.Info("dropped")
	logger.Debugw("dropped")
	test.That(t, buf.Len(), test.ShouldEqual, 0)

	logger.Error("kept")
	test.That(t, readLine(t, buf)[1], test.ShouldEqual, "ERROR")

	logger.CDebugw(EnableDebugMode(context.Background()), "forced")
	test.That(t, readLine(t, buf)[4], test.ShouldEqual, "forced")

	logger.SetLevel(DEBUG)
	test.That(t, logger.GetLevel(), test.ShouldEqual, DEBUG)

	for _, name := range []string{"debug", "INFO", "warning", "Error"} {
		_, err := LevelFromString(name)
		test.That(t, err, test.ShouldBeNil)
	}
	_, err := LevelFromString("loud")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSubloggerAndFields(t *testing.T) {
	logger, buf := newBufferLogger("rgbd", DEBUG)
	sub := logger.Sublogger("sync").WithFields("run", 1)
	test.That(t, sub.Name(), test.ShouldEqual, "rgbd.sync")

	sub.Infow("emitted", "slots", 2)
	parts := readLine(t, buf)
	test.That(t, parts[2], test.ShouldEqual, "rgbd.sync")
	test.That(t, parts[5], test.ShouldEqual, `{"run":1,"slots":2}`)

	logger.Infow("unpaired", "lonely")
	parts = readLine(t, buf)
	test.That(t, parts[5], test.ShouldContainSubstring, "unpaired log key")
}

func TestObservedTestLogger(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)
	logger.Sublogger("device").Warnw("stalled", "camera", "color")
	test.That(t, logs.FilterMessage("stalled").Len(), test.ShouldEqual, 1)
	entry := logs.All()[0]
	test.That(t, entry.LoggerName, test.ShouldEqual, "device")
	test.That(t, entry.ContextMap()["camera"], test.ShouldEqual, "color")
}

func TestPatternLevels(t *testing.T) {
	parent := NewLogger("patterntest")
	child := parent.Sublogger("sync")
	test.That(t, child.GetLevel(), test.ShouldEqual, INFO)

	test.That(t, UpdateLogLevels([]LoggerPatternConfig{{Pattern: "patterntest.*", Level: "debug"}}), test.ShouldBeNil)
	test.That(t, child.GetLevel(), test.ShouldEqual, DEBUG)
	test.That(t, parent.GetLevel(), test.ShouldEqual, INFO)

	late := parent.Sublogger("device")
	test.That(t, late.GetLevel(), test.ShouldEqual, DEBUG)

	got, ok := LoggerNamed("patterntest.sync")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, got, test.ShouldEqual, child)

	test.That(t, UpdateLogLevels([]LoggerPatternConfig{{Pattern: "bad pattern", Level: "debug"}}), test.ShouldNotBeNil)
	test.That(t, UpdateLogLevels(nil), test.ShouldBeNil)
	test.That(t, child.GetLevel(), test.ShouldEqual, INFO)
}
