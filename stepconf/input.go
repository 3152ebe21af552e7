package stepconf

// InputParser parses a tagged struct from a custom source.
type InputParser interface {
	Parse(input interface{}) error
}

type envInputParser struct {
	envGetter EnvGetter
}

// NewInputParser ...
func NewInputParser(envGetter EnvGetter) InputParser {
	return envInputParser{envGetter: envGetter}
}

// Parse ...
func (p envInputParser) Parse(input interface{}) error {
	return parse(input, p.envGetter)
}

type defaultsEnvGetter struct {
	envGetter EnvGetter
	defaults  map[string]string
}

// WithDefaults returns an EnvGetter that falls back to defaults for empty values.
func WithDefaults(envGetter EnvGetter, defaults map[string]string) EnvGetter {
	return defaultsEnvGetter{envGetter: envGetter, defaults: defaults}
}

func (g defaultsEnvGetter) Get(key string) string {
	if value := g.envGetter.Get(key); value != "" {
		return value
	}
	return g.defaults[key]
}
