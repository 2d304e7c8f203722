package transform

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// RewriteModel replaces the top-level "model" field with the route's target
// model. The field is only rewritten when present; bodies without one pass
// through untouched. The caller runs this before the request pipeline so
// user-configured rules see the post-rewrite body.
func RewriteModel(body []byte, target string) ([]byte, error) {
	if !gjson.GetBytes(body, "model").Exists() {
		return body, nil
	}
	out, err := sjson.SetBytes(body, "model", target)
	if err != nil {
		return nil, fmt.Errorf("failed to rewrite model field: %w", err)
	}
	return out, nil
}
