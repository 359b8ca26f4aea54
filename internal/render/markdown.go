package render

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/shopspring/decimal"

	"github.com/dshills/cartsync/internal/schema"
)

type markdownRenderer struct{}

var mdTemplate = template.Must(template.New("result").Funcs(template.FuncMap{
	"money": func(d decimal.Decimal) string { return "$" + d.StringFixed(2) },
	"isSet": func(b *bool) bool { return b != nil && *b },
}).Parse(`# cartsync: {{ .Operation }}

**Result:** {{ if .OK }}OK{{ else }}FAILED{{ end }}
**Storefront:** {{ .Input.BaseURL }} ({{ .Input.Variant }})
{{- if .Input.Page }}
**Page:** {{ .Input.Page }}
{{- end }}
{{- if .Error }}

> {{ .Error }}
{{- end }}
{{ if .Notifications }}
## Notifications
{{ range .Notifications }}
- **{{ .Kind }}:** {{ .Message }}
{{- end }}
{{ end }}{{ with .Count }}
## Cart

**Items:** {{ . }}
{{ end }}{{ with .Totals }}
## Totals

| | Amount |
|---|---|
| Subtotal | {{ money .Subtotal }} |
{{- if and .ShippingCost.Valid (not .ShippingCost.Decimal.IsZero) }}
| Shipping | {{ money .ShippingCost.Decimal }} |
{{- end }}
{{- if and .Discount.Valid (not .Discount.Decimal.IsZero) }}
| Discount | -{{ money .Discount.Decimal }} |
{{- end }}
| **Total** | **{{ money .Total }}** |
{{ end }}{{ with .Session }}
## Session
{{ if .IsAuthenticated }}
Signed in as **{{ .User.Username }}** (rol: {{ .User.Rol }})
{{ else }}
Not signed in
{{ end }}{{ end }}{{ if .ViewChoices }}
## Views
{{ range .ViewChoices }}
- {{ .Label }}: {{ .Target }}
{{- end }}
{{ end }}{{ if .InWishlist }}
## Wishlist

{{ if isSet .InWishlist }}In wishlist{{ else }}Not in wishlist{{ end }}
{{ end }}{{ if .Suggestions }}
## Suggestions

| Product | Price | Link |
|---|---|---|
{{- range .Suggestions }}
| {{ .Name }} | {{ money .Price }} | {{ .URL }} |
{{- end }}
{{ end }}{{ with .Navigation }}
## Navigation
{{ if .Reloaded }}
Page reloaded.
{{ end }}{{ if .Target }}
Redirect to {{ .Target }}
{{ end }}{{ end }}
---
*{{ .Tool }} {{ .Version }}*
`))

func (r *markdownRenderer) Render(result *schema.Result) ([]byte, error) {
	var buf bytes.Buffer
	if err := mdTemplate.Execute(&buf, result); err != nil {
		return nil, fmt.Errorf("rendering markdown: %w", err)
	}
	return buf.Bytes(), nil
}
