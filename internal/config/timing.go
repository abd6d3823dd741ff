package config

import "time"

// Timings groups the engine's polling, persistence and retry intervals.
type Timings struct {
	Tick               time.Duration
	SnapshotInterval   time.Duration
	CheckpointInterval time.Duration
	ColdStartGap       time.Duration
	AnswerDebounce     time.Duration
	AutoAdvance        time.Duration

	LockDownPoll        time.Duration
	LockDownWindow      time.Duration
	LockDownWatch       time.Duration
	RecoveryPoll        time.Duration
	RecoveryAttempts    int
	SubmitAttempts      int
	SubmitBackoff       time.Duration
	RemoteTaskTimeout   time.Duration
	QueueSubmitInterval time.Duration
}

var DefaultTimings = Timings{
	Tick:               time.Second,
	SnapshotInterval:   60 * time.Second,
	CheckpointInterval: 30 * time.Second,
	ColdStartGap:       10 * time.Second,
	AnswerDebounce:     300 * time.Millisecond,
	AutoAdvance:        1000 * time.Millisecond,

	LockDownPoll:        300 * time.Millisecond,
	LockDownWindow:      5 * time.Second,
	LockDownWatch:       time.Second,
	RecoveryPoll:        200 * time.Millisecond,
	RecoveryAttempts:    5,
	SubmitAttempts:      3,
	SubmitBackoff:       700 * time.Millisecond,
	RemoteTaskTimeout:   15 * time.Second,
	QueueSubmitInterval: 500 * time.Millisecond,
}
