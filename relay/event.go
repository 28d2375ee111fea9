package relay

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// Event names carried on a thread stream
const (
	EventMessage = "message"
	EventDeleted = "deleted"
	EventPing    = "ping"
)

// Event is one named, already-serialised push
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// NewEvent serialises payload once so it can be shared by every subscriber
func NewEvent(name string, payload interface{}) (Event, error) {
	if raw, ok := payload.(json.RawMessage); ok {
		return Event{Name: name, Data: raw}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, errors.Wrapf(err, "failed to encode %s event", name)
	}
	return Event{Name: name, Data: data}, nil
}

// pingEvent is the keep-alive sent on idle streams
var pingEvent = Event{Name: EventPing, Data: json.RawMessage("{}")}

// WriteTo renders the event in text/event-stream framing. Data spanning
// several lines is split into one data field per line.
func (e Event) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	if e.Name != "" {
		buf.WriteString("event: ")
		buf.WriteString(e.Name)
		buf.WriteByte('\n')
	}

	data := e.Data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	for _, line := range bytes.Split(data, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(bytes.TrimSuffix(line, []byte("\r")))
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')

	return buf.WriteTo(w)
}
