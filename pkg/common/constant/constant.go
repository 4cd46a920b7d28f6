package constant

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

const (
	// MaxWatermarkLag caps how far back a fresh monitor rescans when no
	// watermark has been persisted yet.
	MaxWatermarkLag uint64 = 10_000
)
