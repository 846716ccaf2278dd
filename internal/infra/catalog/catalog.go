// Package catalog holds the static credit pack SKUs agents can purchase.
// Keeping the catalog in code keeps checkout deterministic while the API
// flow is still settling.
package catalog

// SKU is a purchasable credit pack. AmountUSDC is in USDC base units
// (6 decimals), Characters is the credit grant per unit purchased.
type SKU struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	AmountUSDC int64  `json:"amount_usdc"`
	Characters int64  `json:"characters"`
	Currency   string `json:"currency"`
}

// Catalog lists every sellable SKU.
var Catalog = []SKU{
	{
		ID:         "tts-1k",
		Label:      "TTS 1K Characters",
		AmountUSDC: 10_000, // $0.01
		Characters: 1000,
		Currency:   "USDC",
	},
	{
		ID:         "tts-2k",
		Label:      "TTS 2K Characters",
		AmountUSDC: 20_000, // $0.02
		Characters: 2000,
		Currency:   "USDC",
	},
	{
		ID:         "tts-5k",
		Label:      "TTS 5K Characters",
		AmountUSDC: 45_000, // $0.045
		Characters: 5000,
		Currency:   "USDC",
	},
}

var lookup = func() map[string]*SKU {
	m := make(map[string]*SKU, len(Catalog))
	for i := range Catalog {
		m[Catalog[i].ID] = &Catalog[i]
	}
	return m
}()

// Lookup resolves a SKU id. Returns nil when the id is not sold.
func Lookup(id string) *SKU {
	return lookup[id]
}

// Payload is the document served at /catalog.json.
type Payload struct {
	Version  string `json:"version"`
	Product  string `json:"product"`
	Currency string `json:"currency"`
	Items    []SKU  `json:"items"`
}

// GetPayload returns the catalog document agents consume directly.
func GetPayload() Payload {
	return Payload{
		Version:  "1.0",
		Product:  "speak-credits",
		Currency: "USDC",
		Items:    Catalog,
	}
}
