package logger

import (
	"bytes"
	"log/slog"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

const (
	textDebugString = "severity=DEBUG"
	textInfoString  = "severity=INFO"
	textWarnString  = "severity=WARNING"
	textErrorString = "severity=ERROR"

	jsonInfoString = `"severity":"INFO"`
)

type LoggerTest struct {
	suite.Suite
}

func TestLoggerSuite(t *testing.T) {
	suite.Run(t, new(LoggerTest))
}

func redirectToBuffer(buf *bytes.Buffer, level string) {
	pl := new(slog.LevelVar)
	defaultLoggerFactory.programLevel = pl
	defaultLogger = slog.New(defaultLoggerFactory.createHandler(buf))
	setLoggingLevel(level, pl)
}

func (t *LoggerTest) TestLevelFiltering() {
	var buf bytes.Buffer
	redirectToBuffer(&buf, SeverityWarning)

	Infof("suppressed")
	t.Empty(buf.String())

	Warnf("visible")
	t.Regexp(regexp.MustCompile(textWarnString), buf.String())
}

func (t *LoggerTest) TestTraceBelowDebug() {
	var buf bytes.Buffer
	redirectToBuffer(&buf, SeverityTrace)

	Tracef("trace line")
	t.NotEmpty(buf.String())
}

func (t *LoggerTest) TestOffSuppressesEverything() {
	var buf bytes.Buffer
	redirectToBuffer(&buf, SeverityOff)

	Errorf("still suppressed")
	t.Empty(buf.String())
}

func (t *LoggerTest) TestSetLoggingLevel() {
	testData := []struct {
		input    string
		expected slog.Level
	}{
		{SeverityTrace, LevelTrace},
		{SeverityDebug, LevelDebug},
		{SeverityWarning, LevelWarn},
		{SeverityError, LevelError},
		{SeverityOff, LevelOff},
	}
	for _, test := range testData {
		pl := new(slog.LevelVar)
		setLoggingLevel(test.input, pl)
		assert.Equal(t.T(), test.expected, pl.Level())
	}
}

func (t *LoggerTest) TestSetLogFormatJSON() {
	defaultLoggerFactory = &loggerFactory{
		format:       "text",
		level:        SeverityInfo,
		rotateConfig: DefaultRotateConfig(),
		programLevel: new(slog.LevelVar),
	}
	setLoggingLevel(SeverityInfo, defaultLoggerFactory.programLevel)

	SetLogFormat("json")
	assert.Equal(t.T(), "json", defaultLoggerFactory.format)

	var buf bytes.Buffer
	redirectToBuffer(&buf, SeverityInfo)
	defaultLoggerFactory.format = "json"
	defaultLogger = slog.New(defaultLoggerFactory.createHandler(&buf))

	Infof("hello")
	assert.Regexp(t.T(), regexp.MustCompile(jsonInfoString), buf.String())
}

func (t *LoggerTest) TestInitLogFileRejectsEmptyPath() {
	err := InitLogFile("", "text", SeverityInfo, DefaultRotateConfig())
	t.Error(err)
}
