package services

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/printshopapp/printshop/internal/email"
	"github.com/printshopapp/printshop/internal/models"
)

// BuildOrderInfo builds a consistent OrderInfo payload for email templates.
func BuildOrderInfo(shopName string, order *models.Order) *email.OrderInfo {
	info := &email.OrderInfo{
		ShopName: strings.TrimSpace(shopName),
		Total:    formatPrice(decimal.Zero),
	}
	if order == nil {
		info.OrderDate = time.Now().Format("January 2, 2006")
		return info
	}

	orderDate := order.CreatedAt
	if orderDate.IsZero() {
		orderDate = time.Now()
	}

	info.OrderNumber = orderNumber(order)
	info.CustomerName = strings.TrimSpace(order.CustomerName)
	if info.CustomerName == "" {
		info.CustomerName = "there"
	}
	info.CustomerEmail = strings.TrimSpace(order.CustomerEmail)
	info.OrderDate = orderDate.Format("January 2, 2006")
	info.Total = formatPrice(order.TotalAmount)

	info.Items = make([]email.OrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		name := strings.TrimSpace(item.ProductName)
		if name == "" {
			name = "Item"
		}
		info.Items = append(info.Items, email.OrderItem{
			Name:       name,
			Quantity:   item.Quantity,
			UnitPrice:  formatPrice(item.UnitPriceAtPurchase),
			TotalPrice: formatPrice(item.Subtotal()),
		})
	}

	if f := order.Fulfillment; f != nil {
		info.ShippingAddress = formatAddress(f.Address)
		info.TrackingNumber = f.TrackingNumber
		info.TrackingCarrier = NormalizeCarrierName(f.ShippingProvider)
		info.TrackingURL = resolveTrackingURL(f.TrackingURL, f.ShippingProvider, f.TrackingNumber)
	}
	return info
}

// orderNumber is the short customer-facing reference for an order.
func orderNumber(order *models.Order) string {
	id := strings.ToUpper(strings.ReplaceAll(order.ID.String(), "-", ""))
	if len(id) > 8 {
		id = id[:8]
	}
	return "#" + id
}

func formatPrice(amount decimal.Decimal) string {
	return "$" + amount.StringFixed(2)
}

func formatAddress(address models.Address) []string {
	if strings.TrimSpace(address.Line1) == "" {
		return nil
	}

	lines := []string{strings.TrimSpace(address.Line1)}
	if strings.TrimSpace(address.Line2) != "" {
		lines = append(lines, strings.TrimSpace(address.Line2))
	}

	cityStatePostal := strings.TrimSpace(strings.TrimSpace(address.City) + ", " + strings.TrimSpace(address.State) + " " + strings.TrimSpace(address.PostalCode))
	cityStatePostal = strings.Trim(cityStatePostal, ", ")
	if cityStatePostal != "" {
		lines = append(lines, cityStatePostal)
	}

	if strings.TrimSpace(address.Country) != "" {
		lines = append(lines, strings.TrimSpace(address.Country))
	}
	return lines
}
