// Package realtime is a small path-addressed key/value store with change
// notifications and per-connection deferred writes that run when the
// connection goes away.
package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Value is the JSON object stored at a path.
type Value map[string]any

// ServerTimestamp returns a placeholder replaced by the server clock, in
// unix milliseconds, at the moment a write is applied.
func ServerTimestamp() map[string]any {
	return map[string]any{".sv": "timestamp"}
}

func isServerTimestamp(v any) bool {
	var m map[string]any
	switch x := v.(type) {
	case map[string]any:
		m = x
	case Value:
		m = x
	default:
		return false
	}
	return len(m) == 1 && m[".sv"] == "timestamp"
}

// Resolve returns a copy of v with every ServerTimestamp replaced by now.
// Nested objects keep their type.
func Resolve(v Value, now time.Time) Value {
	out := make(Value, len(v))
	for k, x := range v {
		if isServerTimestamp(x) {
			out[k] = now.UnixMilli()
			continue
		}
		switch nested := x.(type) {
		case Value:
			out[k] = Resolve(nested, now)
		case map[string]any:
			out[k] = map[string]any(Resolve(nested, now))
		default:
			out[k] = x
		}
	}
	return out
}

// StatusPath is the path of a user's presence record.
func StatusPath(uid string) string {
	return "/status/" + uid
}

// UIDFromStatusPath returns the uid of a /status/{uid} path.
func UIDFromStatusPath(path string) (string, bool) {
	uid, ok := strings.CutPrefix(path, "/status/")
	if !ok || uid == "" || strings.Contains(uid, "/") {
		return "", false
	}
	return uid, true
}

// Status is the typed view of a /status/{uid} value.
type Status struct {
	Online     bool      `json:"online"`
	LastOnline time.Time `json:"lastOnline"`
}

// StatusValue builds a status value whose lastOnline is set by the server.
func StatusValue(online bool) Value {
	return Value{"online": online, "lastOnline": ServerTimestamp()}
}

// ParseStatus reads a stored status value.
func ParseStatus(v Value) (Status, error) {
	var s Status
	if v == nil {
		return s, nil
	}
	if online, ok := v["online"].(bool); ok {
		s.Online = online
	}
	ms, err := toMillis(v["lastOnline"])
	if err != nil {
		return s, fmt.Errorf("lastOnline: %w", err)
	}
	if ms > 0 {
		s.LastOnline = time.UnixMilli(ms).UTC()
	}
	return s, nil
}

func toMillis(x any) (int64, error) {
	switch n := x.(type) {
	case nil:
		return 0, nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case json.Number:
		return n.Int64()
	}
	return 0, fmt.Errorf("unexpected type %T", x)
}

func encodeValue(v Value) ([]byte, error) {
	return json.Marshal(v)
}

func decodeValue(b []byte) (Value, error) {
	var v Value
	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
