package metrics

// Config carries the constant labels stamped on every series.
type Config struct {
	ServiceName string
	Environment string
}
