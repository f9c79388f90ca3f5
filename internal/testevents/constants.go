package testevents

import "time"

// Worker configuration constants.
const (
	WorkerChannelMultiplier = 2
)

// Runner configuration constants.
const (
	DefaultAnswerWait    = 10 * time.Second
	answerPollInterval   = 200 * time.Millisecond
	PercentageMultiplier = 100
)

// Synthetic typing constants, in milliseconds.
const (
	holdMin      = 60.0
	holdRange    = 80.0
	gapMin       = 110.0
	gapRange     = 150.0
	jitterSigma  = 0.08
	pauseEvery   = 9
	pauseMin     = 220.0
	pauseRange   = 300.0
	sessionStart = 1_000.0
)
