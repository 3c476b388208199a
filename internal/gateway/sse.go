package gateway

import (
	"bytes"
	"encoding/json"
)

// sniffUsage scans an accumulated SSE buffer for "data: {...}" lines and
// returns the JSON object of the last one that carries a "usage" field,
// per spec.md §4.4's streaming finalization rule. It tolerates chunks that
// split a data line mid-frame: callers should feed all chunks received so
// far, not just the latest one, since a boundary may fall inside a line.
func sniffUsage(buf []byte) (map[string]any, bool) {
	var last map[string]any
	found := false

	for _, line := range bytes.Split(buf, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		data := bytes.TrimSpace(line[len("data:"):])
		if len(data) == 0 || bytes.Equal(data, []byte("[DONE]")) {
			continue
		}

		var obj map[string]any
		if err := json.Unmarshal(data, &obj); err != nil {
			continue
		}
		if _, ok := obj["usage"]; ok {
			last = obj
			found = true
		}
	}

	return last, found
}
