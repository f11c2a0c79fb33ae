package agent

import (
	"github.com/tidwall/gjson"

	"perfwatch/internal/counters"
	perrors "perfwatch/internal/errors"
)

// Protocol commands sent to the agent.
const (
	cmdWDYH = "WDYH"
	cmdWIW  = "WIW "
)

// decodeFrame reads one counter tree line. Agents may send leaf values as
// JSON strings, numbers or booleans; they are kept in their textual form.
// A frame of the form {"error": "..."} is reported as a protocol error.
func decodeFrame(source string, line []byte) (*counters.Entities, error) {
	if !gjson.ValidBytes(line) {
		return nil, perrors.NewError(perrors.ErrTypeProtocol, "agent sent a line that is not JSON").
			WithComponent(source).
			WithContext("line", truncate(line)).
			Build()
	}
	root := gjson.ParseBytes(line)
	if !root.IsObject() {
		return nil, perrors.ProtocolError(source, "agent frame is not an object", nil)
	}
	if msg := root.Get("error"); msg.Exists() {
		return nil, perrors.ProtocolError(source, "agent error: "+msg.String(), nil)
	}

	out := counters.NewEntities()
	for _, e := range root.Get("subs").Array() {
		entity := counters.NewEntity(e.Get("name").String(), e.Get("isAvailable").Bool())
		if subs := decodeCounters(e.Get("subs")); subs != nil {
			entity.Subs = subs
		}
		out.Add(entity)
	}
	return out, nil
}

func decodeCounters(list gjson.Result) []*counters.CounterInfo {
	if !list.IsArray() {
		return nil
	}
	items := list.Array()
	if len(items) == 0 {
		return []*counters.CounterInfo{}
	}
	out := make([]*counters.CounterInfo, 0, len(items))
	for _, item := range items {
		c := counters.NewCounter(item.Get("name").String())
		switch v := item.Get("counter"); v.Type {
		case gjson.String:
			c.SetValue(v.String())
		case gjson.Number:
			c.SetValue(v.Raw)
		case gjson.True, gjson.False:
			c.SetValue(v.Raw)
		}
		c.Subs = decodeCounters(item.Get("subs"))
		out = append(out, c)
	}
	return out
}

func truncate(line []byte) string {
	const max = 128
	if len(line) > max {
		return string(line[:max]) + "..."
	}
	return string(line)
}
