package mcp

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/roam/internal/errors"
)

// decode round-trips the tool arguments through JSON into T. Type
// mismatches come back as INVALID_REQUEST naming the offending field.
func decode[T any](req mcp.CallToolRequest) (T, error) {
	var out T
	raw, err := json.Marshal(req.GetArguments())
	if err != nil {
		return out, errors.NewInvalidRequest(fmt.Sprintf("arguments are not serializable: %v", err))
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		if te, ok := err.(*json.UnmarshalTypeError); ok && te.Field != "" {
			return out, errors.NewInvalidRequest(fmt.Sprintf("%s must be %s", te.Field, te.Type))
		}
		return out, errors.NewInvalidRequest(fmt.Sprintf("invalid arguments: %v", err))
	}
	return out, nil
}
