package services

import (
	"net/url"
	"strings"
)

type carrier struct {
	name        string
	aliases     []string
	trackingURL string
}

// knownCarriers are matched on a lower-cased name with spaces, dashes and
// underscores removed. EasyPost and Printful both report free-form names.
var knownCarriers = []carrier{
	{name: "USPS", aliases: []string{"usps", "unitedstatespostalservice"}, trackingURL: "https://tools.usps.com/go/TrackConfirmAction?tLabels="},
	{name: "FedEx", aliases: []string{"fedex", "federalexpress", "fedexdefault"}, trackingURL: "https://www.fedex.com/fedextrack/?trknbr="},
	{name: "UPS", aliases: []string{"ups", "unitedparcelservice"}, trackingURL: "https://www.ups.com/track?tracknum="},
	{name: "DHL", aliases: []string{"dhl", "dhlexpress", "dhlecommerce"}, trackingURL: "https://www.dhl.com/us-en/home/tracking.html?tracking-id="},
	{name: "Canada Post", aliases: []string{"canadapost", "postescanada"}, trackingURL: "https://www.canadapost-postescanada.ca/track-reperage/en#/search?searchFor="},
}

var carrierKeyReplacer = strings.NewReplacer(" ", "", "-", "", "_", "")

func lookupCarrier(name string) (carrier, bool) {
	key := carrierKeyReplacer.Replace(strings.ToLower(strings.TrimSpace(name)))
	if key == "" {
		return carrier{}, false
	}
	for _, c := range knownCarriers {
		for _, alias := range c.aliases {
			if alias == key {
				return c, true
			}
		}
	}
	return carrier{}, false
}

// NormalizeCarrierName returns the display name of a known carrier and the
// trimmed input for anything else.
func NormalizeCarrierName(name string) string {
	if c, ok := lookupCarrier(name); ok {
		return c.name
	}
	return strings.TrimSpace(name)
}

// BuildTrackingURL links to the carrier's public tracking page. It returns
// "" for unknown carriers or a blank tracking number.
func BuildTrackingURL(carrierName, trackingNumber string) string {
	number := strings.TrimSpace(trackingNumber)
	c, ok := lookupCarrier(carrierName)
	if !ok || number == "" {
		return ""
	}
	return c.trackingURL + url.QueryEscape(number)
}

func resolveTrackingURL(reported, carrierName, trackingNumber string) string {
	if reported = strings.TrimSpace(reported); reported != "" {
		return reported
	}
	return BuildTrackingURL(carrierName, trackingNumber)
}
