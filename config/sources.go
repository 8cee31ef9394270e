package config

// ConfigSources records where each configuration key's effective value came
// from, keyed by dotted setting path. It is rebuilt on every load: defaults
// first, then each merged file overwrites the keys it defines, so the map
// always reflects the highest-precedence file source. Environment overrides
// are detected at introspection time since AutomaticEnv resolves them lazily.
var ConfigSources = make(map[string]SourceInfo)

// resetSources clears tracked sources alongside the cached config
func resetSources() {
	ConfigSources = make(map[string]SourceInfo)
}

// markSettingsFromSource walks a nested settings map and records each leaf
// key in sourceMap under its dotted path, attributed to the given source.
func markSettingsFromSource(settings map[string]interface{}, prefix string, source ConfigSource, path string, sourceMap map[string]SourceInfo) {
	for key, value := range settings {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}

		if nested, ok := value.(map[string]interface{}); ok {
			markSettingsFromSource(nested, fullKey, source, path, sourceMap)
			continue
		}

		sourceMap[fullKey] = SourceInfo{
			Source: source,
			Path:   path,
		}
	}
}
