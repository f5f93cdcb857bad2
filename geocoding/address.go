// Package geocoding resolves coordinates into structured addresses through a
// reverse-geocoding provider, with a cache in front of it.
package geocoding

import "strings"

// Address is a structured, human-readable address. An empty field means the
// provider did not report it.
type Address struct {
	AddressLine1     string `json:"address_line_1"`
	City             string `json:"city"`
	State            string `json:"state"`
	PostalCode       string `json:"postal_code"`
	Country          string `json:"country"`
	FormattedAddress string `json:"formatted_address"`
}

// AddressComponent is one element of a provider's address_components list.
type AddressComponent struct {
	LongName  string   `json:"long_name"`
	ShortName string   `json:"short_name"`
	Types     []string `json:"types"`
}

// HasType reports whether the component carries tag.
func (c AddressComponent) HasType(tag string) bool {
	for _, t := range c.Types {
		if t == tag {
			return true
		}
	}
	return false
}

// Tag priority per field. For each field the first tag in the list that any
// component carries wins, and among components with that tag the first one
// in provider order wins.
var (
	cityTags       = []string{"locality", "sublocality", "sublocality_level_1", "administrative_area_level_2"}
	stateTags      = []string{"administrative_area_level_1"}
	postalCodeTags = []string{"postal_code"}
	countryTags    = []string{"country"}
)

// ParseAddress builds an Address from provider components.
func ParseAddress(components []AddressComponent, formatted string) Address {
	return Address{
		AddressLine1:     addressLine1(components),
		City:             firstByPriority(components, cityTags),
		State:            firstByPriority(components, stateTags),
		PostalCode:       firstByPriority(components, postalCodeTags),
		Country:          firstByPriority(components, countryTags),
		FormattedAddress: formatted,
	}
}

func addressLine1(components []AddressComponent) string {
	number := firstByPriority(components, []string{"street_number"})
	route := firstByPriority(components, []string{"route"})

	switch {
	case number != "" && route != "":
		return number + " " + route
	case number != "":
		return number
	default:
		return route
	}
}

func firstByPriority(components []AddressComponent, tags []string) string {
	for _, tag := range tags {
		for _, c := range components {
			if c.HasType(tag) {
				return strings.TrimSpace(c.LongName)
			}
		}
	}
	return ""
}
