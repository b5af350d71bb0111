package embeddings

import "os"

// CredentialSource is one place an API key may come from.
type CredentialSource struct {
	// Name identifies the source in logs; never the key itself.
	Name string

	// Lookup returns the key, or "" when the source has nothing.
	Lookup func() string
}

// DefaultCredentialSources returns the standard fallback chain: the
// service-specific environment variable, then the generic OpenAI one, then
// the key from the config file.
func DefaultCredentialSources(configKey string) []CredentialSource {
	return []CredentialSource{
		{Name: "env:CORPUSD_EMBEDDINGS_API_KEY", Lookup: func() string { return os.Getenv("CORPUSD_EMBEDDINGS_API_KEY") }},
		{Name: "env:OPENAI_API_KEY", Lookup: func() string { return os.Getenv("OPENAI_API_KEY") }},
		{Name: "config:embeddings.api_key", Lookup: func() string { return configKey }},
	}
}

// ResolveCredential walks sources in order and returns the first non-empty
// key together with the name of the source that provided it.
func ResolveCredential(sources []CredentialSource) (key, source string, ok bool) {
	for _, s := range sources {
		if s.Lookup == nil {
			continue
		}
		if v := s.Lookup(); v != "" {
			return v, s.Name, true
		}
	}
	return "", "", false
}
