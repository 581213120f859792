package workflow

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// ProjectOutput reads a dotted gjson path out of the workflow's free-form
// Output/Context blobs without unmarshalling either into a struct, for
// facade responses that surface one or two derived fields (e.g.
// "output_data.ipv4_address") alongside the typed Workflow fields.
func (w *Workflow) ProjectOutput(path string) gjson.Result {
	return projectField(w.Output, path)
}

// ProjectContext is ProjectOutput over the workflow's in-flight Context
// blob instead of its terminal Output.
func (w *Workflow) ProjectContext(path string) gjson.Result {
	return projectField(w.Context, path)
}

func projectField(m map[string]any, path string) gjson.Result {
	if m == nil {
		return gjson.Result{}
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return gjson.Result{}
	}
	return gjson.GetBytes(raw, path)
}
