package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) AdmissionResult(result string)                                 {}
func (n *NoopSink) DispatchOutcome(channel, outcome string)                       {}
func (n *NoopSink) SendCompleted(channel, statusClass string, d time.Duration)    {}
func (n *NoopSink) RecordsInFlightIncr(topic string)                              {}
func (n *NoopSink) RecordsInFlightDecr(topic string)                              {}
func (n *NoopSink) RetryScheduled(channel string)                                 {}
func (n *NoopSink) RetryRequeuedNotDue(channel string)                            {}
func (n *NoopSink) DeadLetterRecorded(kind string)                                {}
func (n *NoopSink) BreakerStateChanged(channel, state string)                     {}
func (n *NoopSink) ReclaimCompleted(topic string, count int)                      {}

var _ Sink = (*NoopSink)(nil)
