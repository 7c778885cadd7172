package events

import (
	"time"

	"github.com/technosupport/firewatch/internal/alarms"
	"github.com/technosupport/firewatch/internal/stream"
)

// Kind identifies an event on the hub.
type Kind string

const (
	FrameDecoded  Kind = "frame_decoded"
	AlarmRaised   Kind = "alarm_raised"
	AlarmDisposed Kind = "alarm_disposed"
	SourceFault   Kind = "source_fault"
)

// AlarmKinds are the kinds forwarded to external brokers and live clients.
var AlarmKinds = []Kind{AlarmRaised, AlarmDisposed, SourceFault}

// Event is a notification emitted by the ingestion worker or the lifecycle.
// Frame is only set for FrameDecoded and is never serialized.
type Event struct {
	Kind    Kind          `json:"kind"`
	At      time.Time     `json:"at"`
	Alarm   *alarms.Alarm `json:"alarm,omitempty"`
	AlarmID int64         `json:"alarm_id,omitempty"`
	Action  string        `json:"action,omitempty"`
	ActorID int64         `json:"actor_id,omitempty"`
	Fault   string        `json:"fault,omitempty"`
	Frame   *stream.Frame `json:"-"`
}
