package redis

const defaultPrefix = "courier:q:"

// Stats hash fields.
const (
	fieldCompleted = "completed"
	fieldFailed    = "failed"
)

type keys struct {
	waiting    string
	active     string
	jobs       string
	deliveries string
	stats      string
}

func newKeys(prefix string) keys {
	return keys{
		waiting:    prefix + "z:waiting",
		active:     prefix + "z:active",
		jobs:       prefix + "h:jobs",
		deliveries: prefix + "h:deliveries",
		stats:      prefix + "h:stats",
	}
}
