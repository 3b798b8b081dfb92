package dynamo

// Config holds configuration for the DynamoDB-backed client.
type Config struct {
	// Table is the name of the single entity table.
	// Default: "lattice_entities"
	Table string

	// KindIndex is the name of the GSI keyed by namespace-qualified kind,
	// used to run kind scans.
	// Default: "kindns-index"
	KindIndex string

	// CounterTable is the name of the id-allocation ledger table.
	// Default: "lattice_counters"
	CounterTable string
}

// DefaultConfig returns sensible defaults for small datasets.
func DefaultConfig() Config {
	return Config{
		Table:        "lattice_entities",
		KindIndex:    "kindns-index",
		CounterTable: "lattice_counters",
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.Table == "" {
		c.Table = "lattice_entities"
	}
	if c.KindIndex == "" {
		c.KindIndex = "kindns-index"
	}
	if c.CounterTable == "" {
		c.CounterTable = "lattice_counters"
	}
}
