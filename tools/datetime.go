package tools

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/tools"
)

var datetimeLogger = logrus.WithField("tool", "datetime")

type DateTimeTool struct {
	now func() time.Time
}

func NewDateTimeTool() *DateTimeTool {
	datetimeLogger.Debug("Initializing datetime tool")
	return &DateTimeTool{now: time.Now}
}

func (d *DateTimeTool) Description() string {
	return "Display the current date and time. Empty input for local time, 'utc' for UTC, or an IANA time zone such as 'Europe/Rome'."
}

func (d *DateTimeTool) Name() string {
	return "datetime"
}

func (d *DateTimeTool) Call(_ context.Context, input string) (string, error) {
	toolLogger := datetimeLogger.WithField("input", input)
	toolLogger.Info("DateTime tool called")

	now := d.now()
	zone := strings.TrimSpace(input)
	switch {
	case zone == "" || strings.EqualFold(zone, "none") || strings.EqualFold(zone, "local"):
	case strings.EqualFold(zone, "utc") || zone == "-u":
		now = now.UTC()
	default:
		loc, err := time.LoadLocation(zone)
		if err != nil {
			toolLogger.WithError(err).Warn("Unknown time zone")
			return "Error: unknown time zone " + zone, nil
		}
		now = now.In(loc)
	}

	return now.Format("Monday, 02 January 2006 15:04:05 MST"), nil
}

var _ tools.Tool = (*DateTimeTool)(nil)
