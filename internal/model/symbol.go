package model

// SymbolStatus is the exchange-reported trading status of a perpetual contract.
type SymbolStatus string

const (
	StatusTrading SymbolStatus = "TRADING"
	StatusBreak   SymbolStatus = "BREAK"
)

// Symbol is a tradable perpetual futures contract and its precision metadata.
// Symbols are never deleted once seen: a symbol that disappears from the
// exchange is disabled so historical rows remain attributable.
type Symbol struct {
	Symbol          string       `json:"symbol"` // e.g. BTCUSDT
	BaseAsset       string       `json:"base_asset"`
	QuoteAsset      string       `json:"quote_asset"`
	ContractType    string       `json:"contract_type"` // always "PERPETUAL" in scope
	Status          SymbolStatus `json:"status"`
	Enabled         bool         `json:"enabled"`
	Priority        int          `json:"priority"`
	PricePrecision  int          `json:"price_precision"`
	QtyPrecision    int          `json:"qty_precision"`
	StepSize        float64      `json:"step_size"`
	MinNotional     float64      `json:"min_notional"`
}
