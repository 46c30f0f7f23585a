package screenshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
)

// Stage names the step of a verification that failed
type Stage string

const (
	StageLaunch   Stage = "launch"
	StageNavigate Stage = "navigate"
	StageWait     Stage = "wait"
	StageCapture  Stage = "capture"
	StageWrite    Stage = "write"
)

// VerificationError is the single failure kind of a verification. Every
// problem while driving the browser or saving the image ends up here.
type VerificationError struct {
	Stage     Stage
	URL       string
	Condition string
	Timeout   time.Duration
	Err       error
}

func (e *VerificationError) Error() string {
	if e.Timedout() {
		switch e.Stage {
		case StageWait:
			return fmt.Sprintf("Timeout %v exceeded waiting for %s", e.Timeout, e.Condition)
		case StageNavigate:
			return fmt.Sprintf("Timeout %v exceeded navigating to %s", e.Timeout, e.URL)
		}
	}

	switch e.Stage {
	case StageNavigate:
		return fmt.Sprintf("navigating to %s: %v", e.URL, e.Err)
	case StageWait:
		return fmt.Sprintf("waiting for %s: %v", e.Condition, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

// Timedout reports whether the step ran out of time
func (e *VerificationError) Timedout() bool {
	return e.Timeout > 0 && errors.Is(e.Err, context.DeadlineExceeded)
}

// Result is the outcome of one verification
type Result struct {
	Success        bool
	ScreenshotPath string
	Err            error
	Elapsed        time.Duration
}

// Message renders the one-line human summary
func (r Result) Message() string {
	if r.Success {
		return fmt.Sprintf("Screenshot saved to %s", r.ScreenshotPath)
	}
	return fmt.Sprintf("Error: %v", r.Err)
}

var (
	successColor = color.New(color.FgGreen)
	failureColor = color.New(color.FgRed)
)

// Report writes the result line to w. Colour is only applied when
// fatih/color detects a terminal.
func Report(w io.Writer, r Result) error {
	c := successColor
	if !r.Success {
		c = failureColor
	}
	_, err := c.Fprintln(w, r.Message())
	return err
}
