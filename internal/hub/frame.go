package hub

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/hpcomplexio/mission-control/internal/model"
)

const heartbeatEvent = "heartbeat"

// Frame is one server-sent event. Heartbeat frames carry no seq and are
// written without an id line.
type Frame struct {
	Event string
	Data  []byte
	Seq   int64
}

func (f Frame) IsHeartbeat() bool {
	return f.Event == heartbeatEvent
}

// Bytes renders the frame in the text/event-stream wire format.
func (f Frame) Bytes() []byte {
	var b []byte
	if f.Seq > 0 {
		b = append(b, "id: "...)
		b = strconv.AppendInt(b, f.Seq, 10)
		b = append(b, '\n')
	}
	b = append(b, "event: "...)
	b = append(b, f.Event...)
	b = append(b, "\ndata: "...)
	b = append(b, f.Data...)
	b = append(b, "\n\n"...)
	return b
}

func eventFrame(seq int64, env model.Envelope) (Frame, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return Frame{}, fmt.Errorf("encoding envelope %s: %w", env.ID, err)
	}
	return Frame{Seq: seq, Event: string(env.Type), Data: data}, nil
}

func rowFrame(row model.EventLogRow) (Frame, error) {
	return eventFrame(row.Seq, row.Envelope)
}

func heartbeatFrame(now time.Time) Frame {
	data, _ := json.Marshal(map[string]string{"timestamp": model.FormatTimestamp(now)})
	return Frame{Event: heartbeatEvent, Data: data}
}
