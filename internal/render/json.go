package render

import (
	"encoding/json"

	"github.com/dshills/cartsync/internal/schema"
)

type jsonRenderer struct{}

func (r *jsonRenderer) Render(result *schema.Result) ([]byte, error) {
	return json.MarshalIndent(result, "", "  ")
}
