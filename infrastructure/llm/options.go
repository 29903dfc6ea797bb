package llm

// DefaultMaxTokens is used when a request does not set max_tokens. Anthropic
// requires the field on every request.
const DefaultMaxTokens = 1024

// Option keys understood by every provider. Anything else is passed through
// in RequestOptions.Extra.
const (
	OptModel       = "model"
	OptTemperature = "temperature"
	OptMaxTokens   = "max_tokens"
	OptTopP        = "top_p"
	OptJSONMode    = "json_mode"
)

// RequestOptions is the typed form of the option map given to Chat.
type RequestOptions struct {
	MaxTokens int
	Model     string
	// Temperature and TopP are nil when unset or out of range, meaning the
	// provider default applies.
	Temperature *float64
	TopP        *float64
	// JSONMode asks for a JSON object response. Providers without a JSON
	// mode ignore it.
	JSONMode bool
	Extra    map[string]any
}

// ParseRequestOptions reads the known keys out of opts. Values of the wrong
// type or outside their accepted range are dropped in favour of the
// default.
func ParseRequestOptions(opts map[string]any, defaultModel string) RequestOptions {
	parsed := RequestOptions{
		MaxTokens: DefaultMaxTokens,
		Model:     defaultModel,
		Extra:     make(map[string]any),
	}
	if v, ok := option(opts, OptMaxTokens, IsPositiveInt); ok {
		parsed.MaxTokens = v
	}
	if v, ok := option(opts, OptModel, IsNonEmptyString); ok {
		parsed.Model = v
	}
	if v, ok := option[bool](opts, OptJSONMode, nil); ok {
		parsed.JSONMode = v
	}
	if v, ok := option(opts, OptTemperature, IsValidTemperature); ok {
		parsed.Temperature = &v
	}
	if v, ok := option(opts, OptTopP, IsValidTopP); ok {
		parsed.TopP = &v
	}

	for k, v := range opts {
		switch k {
		case OptMaxTokens, OptModel, OptJSONMode, OptTemperature, OptTopP:
		default:
			parsed.Extra[k] = v
		}
	}
	return parsed
}

// option returns opts[key] when it holds a T accepted by valid. A nil
// valid accepts any T.
func option[T any](opts map[string]any, key string, valid func(T) bool) (T, bool) {
	v, ok := opts[key].(T)
	if !ok || (valid != nil && !valid(v)) {
		var zero T
		return zero, false
	}
	return v, true
}
