package builder

import "encoding/json"

// Validate performs a lightweight structural check on a bundle: the whole
// bundle must survive a JSON round-trip, and every resource in it (slice
// values expanded element-wise, singleton values taken as-is) must carry a
// non-empty resourceType tag. It reports defects as false and never panics.
func Validate(bundle *Bundle) bool {
	if bundle == nil {
		return false
	}

	encoded, err := json.Marshal(bundle)
	if err != nil {
		return false
	}

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		return false
	}

	for _, value := range decoded {
		var list []map[string]any
		if err := json.Unmarshal(value, &list); err == nil {
			for _, resource := range list {
				if !hasResourceType(resource) {
					return false
				}
			}
			continue
		}

		var single map[string]any
		if err := json.Unmarshal(value, &single); err == nil {
			if !hasResourceType(single) {
				return false
			}
		}
	}

	return true
}

func hasResourceType(resource map[string]any) bool {
	tag, ok := resource["resourceType"].(string)
	return ok && tag != ""
}
