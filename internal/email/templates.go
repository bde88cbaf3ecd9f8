package email

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
)

type Kind string

const (
	KindOrderConfirmation Kind = "order_confirmation"
	KindOrderShipped      Kind = "order_shipped"
	KindOrderDelivered    Kind = "order_delivered"
)

// OrderInfo is the view model shared by all order emails.
type OrderInfo struct {
	OrderNumber     string
	CustomerName    string
	CustomerEmail   string
	ShopName        string
	OrderDate       string
	Items           []OrderItem
	Total           string
	ShippingAddress []string
	TrackingNumber  string
	TrackingURL     string
	TrackingCarrier string
}

type OrderItem struct {
	Name       string
	Quantity   int
	UnitPrice  string
	TotalPrice string
}

type template struct {
	subject string
	html    string
	text    string
}

var templates = map[Kind]template{
	KindOrderConfirmation: {
		subject: "{{.ShopName}}: order {{.OrderNumber}} confirmed",
		html:    orderConfirmationHTML,
		text:    orderConfirmationText,
	},
	KindOrderShipped: {
		subject: "{{.ShopName}}: order {{.OrderNumber}} has shipped",
		html:    orderShippedHTML,
		text:    orderShippedText,
	},
	KindOrderDelivered: {
		subject: "{{.ShopName}}: order {{.OrderNumber}} was delivered",
		html:    orderDeliveredHTML,
		text:    orderDeliveredText,
	},
}

// Renderer holds the parsed templates. HTML bodies are rendered with
// html/template so customer-supplied fields are escaped.
type Renderer struct {
	subjects *texttemplate.Template
	texts    *texttemplate.Template
	htmls    *htmltemplate.Template
}

func NewRenderer() (*Renderer, error) {
	r := &Renderer{
		subjects: texttemplate.New("subjects"),
		texts:    texttemplate.New("texts"),
		htmls:    htmltemplate.New("htmls"),
	}
	for kind, t := range templates {
		name := string(kind)
		if _, err := r.subjects.New(name).Parse(t.subject); err != nil {
			return nil, fmt.Errorf("failed to parse subject template %s: %w", name, err)
		}
		if _, err := r.texts.New(name).Parse(t.text); err != nil {
			return nil, fmt.Errorf("failed to parse text template %s: %w", name, err)
		}
		if _, err := r.htmls.New(name).Parse(layoutOpen + t.html + layoutClose); err != nil {
			return nil, fmt.Errorf("failed to parse HTML template %s: %w", name, err)
		}
	}
	return r, nil
}

func (r *Renderer) Render(kind Kind, data *OrderInfo) (*Email, error) {
	if data == nil {
		return nil, fmt.Errorf("order info is required")
	}
	if _, ok := templates[kind]; !ok {
		return nil, fmt.Errorf("unknown email template %q", kind)
	}
	name := string(kind)

	var subject, text, html bytes.Buffer
	if err := r.subjects.ExecuteTemplate(&subject, name, data); err != nil {
		return nil, fmt.Errorf("failed to render subject: %w", err)
	}
	if err := r.texts.ExecuteTemplate(&text, name, data); err != nil {
		return nil, fmt.Errorf("failed to render text template: %w", err)
	}
	if err := r.htmls.ExecuteTemplate(&html, name, data); err != nil {
		return nil, fmt.Errorf("failed to render HTML template: %w", err)
	}

	return &Email{
		To:      data.CustomerEmail,
		Subject: subject.String(),
		Text:    text.String(),
		HTML:    html.String(),
		Tags: map[string]string{
			"kind":  name,
			"order": data.OrderNumber,
		},
	}, nil
}

const layoutOpen = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; color: #222; max-width: 600px; margin: 0 auto; padding: 20px; }
    table { width: 100%; border-collapse: collapse; }
    th, td { text-align: left; padding: 8px; border-bottom: 1px solid #ddd; }
    .muted { color: #666; font-size: 14px; }
  </style>
</head>
<body>
`

const layoutClose = `
  <p class="muted">Thank you for shopping with {{.ShopName}}.</p>
</body>
</html>
`

const orderConfirmationText = `Hi {{.CustomerName}},

Thanks for your order! Payment for order {{.OrderNumber}} ({{.OrderDate}}) has been received.

{{range .Items}}- {{.Name}} x{{.Quantity}} @ {{.UnitPrice}} = {{.TotalPrice}}
{{end}}
Total: {{.Total}}

Shipping to:
{{range .ShippingAddress}}{{.}}
{{end}}
We'll email you again when it ships.

{{.ShopName}}
`

const orderConfirmationHTML = `  <h2>Thanks for your order, {{.CustomerName}}!</h2>
  <p>Payment for order <strong>{{.OrderNumber}}</strong> ({{.OrderDate}}) has been received.</p>
  <table>
    <tr><th>Item</th><th>Qty</th><th>Price</th><th>Subtotal</th></tr>
    {{range .Items}}<tr><td>{{.Name}}</td><td>{{.Quantity}}</td><td>{{.UnitPrice}}</td><td>{{.TotalPrice}}</td></tr>
    {{end}}
  </table>
  <p><strong>Total: {{.Total}}</strong></p>
  <h3>Shipping to</h3>
  <p>{{range .ShippingAddress}}{{.}}<br>{{end}}</p>
  <p>We'll email you again when it ships.</p>`

const orderShippedText = `Hi {{.CustomerName}},

Order {{.OrderNumber}} is on its way.
{{if .TrackingNumber}}
Carrier: {{.TrackingCarrier}}
Tracking number: {{.TrackingNumber}}
{{if .TrackingURL}}Track it: {{.TrackingURL}}
{{end}}{{end}}
Shipping to:
{{range .ShippingAddress}}{{.}}
{{end}}
{{.ShopName}}
`

const orderShippedHTML = `  <h2>Your order has shipped!</h2>
  <p>Hi {{.CustomerName}}, order <strong>{{.OrderNumber}}</strong> is on its way.</p>
  {{if .TrackingNumber}}<p>Carrier: {{.TrackingCarrier}}<br>Tracking number: <strong>{{.TrackingNumber}}</strong></p>
  {{if .TrackingURL}}<p><a href="{{.TrackingURL}}">Track your package</a></p>{{end}}{{end}}
  <h3>Shipping to</h3>
  <p>{{range .ShippingAddress}}{{.}}<br>{{end}}</p>`

const orderDeliveredText = `Hi {{.CustomerName}},

Order {{.OrderNumber}} has been delivered to:
{{range .ShippingAddress}}{{.}}
{{end}}
We hope you enjoy it!

{{.ShopName}}
`

const orderDeliveredHTML = `  <h2>Delivered!</h2>
  <p>Hi {{.CustomerName}}, order <strong>{{.OrderNumber}}</strong> has been delivered to:</p>
  <p>{{range .ShippingAddress}}{{.}}<br>{{end}}</p>
  <p>We hope you enjoy it!</p>`
