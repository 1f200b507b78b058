package profile

// Card is a stored payment card. Number, CCV and expiry are secrets: they
// never leave the process except through the DOM filler, at the last moment
// before a field is set.
type Card struct {
	Name        string `json:"name"`
	HolderName  string `json:"holderName"`
	Number      string `json:"number"`
	ExpiryMonth string `json:"expiryMonth"`
	ExpiryYear  string `json:"expiryYear"`
	CCV         string `json:"ccv"`
}

// Shape returns a copy with every secret field blanked. This is what the
// model sees: field names only, so it can emit placeholder instructions
// whose values are key names, never card data.
func (c Card) Shape() Card {
	c.Number = ""
	c.ExpiryMonth = ""
	c.ExpiryYear = ""
	c.CCV = ""
	return c
}

// Value resolves a placeholder key from a card instruction to the real
// stored value. Unknown keys resolve to the empty string, which the filler
// then skips.
func (c Card) Value(key string) string {
	switch key {
	case "name":
		return c.Name
	case "holderName":
		return c.HolderName
	case "number", "cardNumber":
		return c.Number
	case "expiryMonth":
		return c.ExpiryMonth
	case "expiryYear":
		return c.ExpiryYear
	case "ccv", "cvv", "cvc":
		return c.CCV
	}
	return ""
}
