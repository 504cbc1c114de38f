package todo

import (
	"encoding/json"
	"fmt"

	"github.com/tidewater-labs/driftline/internal/upcast"
)

// RegisterUpcasters declares the todo schema versions and their version-step
// transforms on the given chain.
//
// todo.created v1 predates the priority field; v1 payloads gain
// priority "normal" on load.
func RegisterUpcasters(chain *upcast.Chain) {
	chain.Declare(EventCreated, CreatedSchemaVersion)
	chain.Register(upcast.Func(EventCreated, 1, createdV1ToV2))
}

func createdV1ToV2(payload json.RawMessage) (json.RawMessage, error) {
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("decode todo.created v1: %w", err)
	}
	if _, ok := fields["priority"]; !ok {
		fields["priority"] = PriorityNormal
	}
	return json.Marshal(fields)
}
