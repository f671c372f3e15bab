package storage

// DefaultTemplate is the index template installed for the metric indices
// at startup. Strings are kept unanalyzed so terms aggregations group on
// whole values.
func DefaultTemplate(prefix string) map[string]any {
	return map[string]any{
		"template": prefix + "*",
		"mappings": map[string]any{
			"_default_": map[string]any{
				"dynamic_templates": []any{
					map[string]any{
						"strings": map[string]any{
							"match_mapping_type": "string",
							"mapping": map[string]any{
								"type":  "string",
								"index": "not_analyzed",
							},
						},
					},
				},
				"properties": map[string]any{
					"timestamp": map[string]any{"type": "date", "format": "epoch_second"},
					"value":     map[string]any{"type": "double"},
				},
			},
		},
	}
}
