package subagent

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// RenderTask builds the opening user turn of a nested agent. Context entries
// are listed in key order before the task text.
func RenderTask(task string, taskContext map[string]interface{}) string {
	if len(taskContext) == 0 {
		return task
	}

	keys := make([]string, 0, len(taskContext))
	for k := range taskContext {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("Context:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %s\n", k, renderValue(taskContext[k]))
	}
	b.WriteString("\nTask:\n")
	b.WriteString(task)
	return b.String()
}

func renderValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case nil:
		return "None"
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
