package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.viam.com/test"
)

type BasicStruct struct {
	X int
	y string
	z string
}

type User struct {
	Name string
}

type StructWithStruct struct {
	x int
	Y User
	z string
}

func newBufferLogger(name string, level Level) (*impl, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return &impl{name: name, level: NewAtomicLevelAt(level), appenders: []Appender{NewWriterAppender(out)}}, out
}

// assertLogMatches fuzzy matches the next line in actual. The time only has to parse and the
// caller line only has to be a number.
func assertLogMatches(t *testing.T, actual *bytes.Buffer, expected string) {
	t.Helper()

	output, err := actual.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)

	actualParts := strings.Split(strings.TrimSuffix(output, "\n"), "\t")
	expectedParts := strings.Split(expected, "\t")
	test.That(t, actualParts, test.ShouldHaveLength, len(expectedParts))
	_, err = time.Parse(DefaultTimeFormatStr, actualParts[0])
	test.That(t, err, test.ShouldBeNil)

	for i := 1; i < len(expectedParts); i++ {
		want, got := expectedParts[i], actualParts[i]
		switch {
		case strings.Contains(want, ".go:"):
			wantFile, _, _ := strings.Cut(want, ":")
			gotFile, gotLine, found := strings.Cut(got, ":")
			test.That(t, found, test.ShouldBeTrue)
			test.That(t, gotFile, test.ShouldEqual, wantFile)
			_, err := strconv.Atoi(gotLine)
			test.That(t, err, test.ShouldBeNil)
		case strings.HasPrefix(want, "{"):
			// field order is stable but comparing maps keeps the expectations readable.
			var wantMap, gotMap map[string]any
			test.That(t, json.Unmarshal([]byte(want), &wantMap), test.ShouldBeNil)
			test.That(t, json.Unmarshal([]byte(got), &gotMap), test.ShouldBeNil)
			test.That(t, gotMap, test.ShouldResemble, wantMap)
		default:
			test.That(t, got, test.ShouldEqual, want)
		}
	}
}

func TestConsoleOutputFormat(t *testing.T) {
	logger, out := newBufferLogger("", DEBUG)

	logger.Info("impl Info log")
	assertLogMatches(t, out,
		`2023-10-30T09:12:09.459-0400	INFO	logging/impl_test.go:67	impl Info log`)

	logger.Infof("impl %s log", "infof")
	assertLogMatches(t, out,
		`2023-10-30T09:45:20.764-0400	INFO	logging/impl_test.go:71	impl infof log`)

	logger.Infow("impl logw", "key", "value")
	assertLogMatches(t, out,
		`2023-10-30T13:19:45.806-0400	INFO	logging/impl_test.go:75	impl logw	{"key":"value"}`)

	// Only exported struct fields are encoded.
	logger.Infow("StructWithStruct", "key", "val", "StructWithStruct", StructWithStruct{1, User{"alice"}, "foo"})
	assertLogMatches(t, out,
		`2023-10-30T13:20:47.129-0400	INFO	logging/impl_test.go:80	StructWithStruct	{"StructWithStruct":{"Y":{"Name":"alice"}},"key":"val"}`)

	logger.Debugw("BasicStruct", "implOneKey", "1val", "BasicStruct", BasicStruct{1, "alice", "foo"})
	assertLogMatches(t, out,
		`2023-10-30T13:20:47.129-0400	DEBUG	logging/impl_test.go:84	BasicStruct	{"BasicStruct":{"X":1},"implOneKey":"1val"}`)

	logger.Warnw("dangling", "key")
	assertLogMatches(t, out,
		`2023-10-30T13:20:47.129-0400	WARN	logging/impl_test.go:88	dangling	{"error":"unpaired log key: key"}`)

	logger.Errorw("failed")
	assertLogMatches(t, out,
		`2023-10-30T13:20:47.129-0400	ERROR	logging/impl_test.go:92	failed`)
}

func TestSubloggerNamesAndLevels(t *testing.T) {
	parent, out := newBufferLogger("usbdisk", WARN)

	parent.Info("dropped")
	test.That(t, out.Len(), test.ShouldEqual, 0)

	sub := parent.Sublogger("resolver")
	sub.Warn("kept")
	assertLogMatches(t, out,
		`2023-10-30T13:20:47.129-0400	WARN	usbdisk.resolver	logging/impl_test.go:103	kept`)

	// Changing the sublogger level does not leak into the parent.
	sub.SetLevel(DEBUG)
	test.That(t, sub.GetLevel(), test.ShouldEqual, DEBUG)
	test.That(t, parent.GetLevel(), test.ShouldEqual, WARN)
}

func TestWithFields(t *testing.T) {
	parent, out := newBufferLogger("usbdisk", DEBUG)
	extra := &bytes.Buffer{}

	withDevice := parent.WithFields("device", "/dev/sdb")
	withDevice.AddAppender(NewWriterAppender(extra))
	withDevice.Infow("writing", "offset", 1024)
	assertLogMatches(t, out,
		`2023-10-30T13:19:45.806-0400	INFO	usbdisk	logging/impl_test.go:119	writing	{"device":"/dev/sdb","offset":1024}`)
	assertLogMatches(t, extra,
		`2023-10-30T13:19:45.806-0400	INFO	usbdisk	logging/impl_test.go:119	writing	{"device":"/dev/sdb","offset":1024}`)

	// Neither the fields nor the added appender reach the parent.
	parent.Info("plain")
	assertLogMatches(t, out,
		`2023-10-30T13:19:45.806-0400	INFO	usbdisk	logging/impl_test.go:126	plain`)
	test.That(t, extra.Len(), test.ShouldEqual, 0)

	withDevice.WithFields("stage", "sync").Sublogger("blockdev").Debugw("done")
	withDevice.Info("again")
	assertLogMatches(t, out,
		`2023-10-30T13:19:45.806-0400	DEBUG	usbdisk.blockdev	logging/impl_test.go:131	done	{"device":"/dev/sdb","stage":"sync"}`)
	assertLogMatches(t, out,
		`2023-10-30T13:19:45.806-0400	INFO	usbdisk	logging/impl_test.go:132	again	{"device":"/dev/sdb"}`)
}

func TestDebugModeContext(t *testing.T) {
	logger, out := newBufferLogger("", INFO)

	ctx := context.Background()
	logger.CDebugw(ctx, "hidden", "key", "value")
	logger.Debug("hidden")
	test.That(t, out.Len(), test.ShouldEqual, 0)

	logger.CDebugw(EnableDebugMode(ctx), "shown", "key", "value")
	assertLogMatches(t, out,
		`2023-10-30T13:19:45.806-0400	DEBUG	logging/impl_test.go:147	shown	{"key":"value"}`)
}

func TestWriterLogger(t *testing.T) {
	out := &bytes.Buffer{}
	logger := NewWriterLogger("usbdisk", out, INFO)
	logger.Debugw("dropped")
	test.That(t, out.Len(), test.ShouldEqual, 0)

	logger.Info("kept")
	line, err := out.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)
	test.That(t, strings.Split(line, "\t")[0], test.ShouldEndWith, "Z")
	assertLogMatches(t, bytes.NewBufferString(line),
		`2023-10-30T13:19:45.806Z	INFO	usbdisk	logging/impl_test.go:160	kept`)
	test.That(t, logger.Sync(), test.ShouldBeNil)
}

func TestTimestampsAcrossZones(t *testing.T) {
	for _, loc := range []*time.Location{time.UTC, time.FixedZone("EDT", -4*60*60), time.FixedZone("IST", 5*60*60+30*60)} {
		out := &bytes.Buffer{}
		entry := zapcore.Entry{Level: zapcore.InfoLevel, Time: time.Date(2023, 10, 30, 9, 12, 9, 459e6, loc), Message: "tick"}
		test.That(t, NewWriterAppender(out).Write(entry, nil), test.ShouldBeNil)
		assertLogMatches(t, out, `2023-10-30T09:12:09.459-0400	INFO	tick`)
	}
}

func TestObservedTestLogger(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)
	logger.Infow("resolved", "devnode", "/dev/sdb")
	logger.Debug("scanning")

	test.That(t, logs.FilterMessage("resolved").Len(), test.ShouldEqual, 1)
	test.That(t, logs.FilterField(zap.String("devnode", "/dev/sdb")).Len(), test.ShouldEqual, 1)
	test.That(t, logs.FilterLevelExact(zapcore.DebugLevel).Len(), test.ShouldEqual, 1)
}

func TestLevelJSON(t *testing.T) {
	for _, tc := range []struct {
		in       string
		expected Level
	}{
		{`"debug"`, DEBUG},
		{`"INFO"`, INFO},
		{`"warning"`, WARN},
		{`"error"`, ERROR},
	} {
		var level Level
		test.That(t, json.Unmarshal([]byte(tc.in), &level), test.ShouldBeNil)
		test.That(t, level, test.ShouldEqual, tc.expected)
	}

	var level Level
	err := json.Unmarshal([]byte(`"loud"`), &level)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unknown log level")

	out, err := json.Marshal(WARN)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(out), test.ShouldEqual, `"warn"`)
}
