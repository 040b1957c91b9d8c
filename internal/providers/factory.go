package providers

// New builds a Provider from config values. Any name other than "anthropic"
// is treated as an OpenAI-compatible endpoint.
func New(name, apiKey, apiBase, model string) Provider {
	switch name {
	case "anthropic":
		return NewAnthropicProvider(apiKey,
			WithAnthropicModel(model),
			WithAnthropicBaseURL(apiBase))
	case "":
		return NewOpenAIProvider("openai", apiKey, apiBase, model)
	default:
		return NewOpenAIProvider(name, apiKey, apiBase, model)
	}
}
