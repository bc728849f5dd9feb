package types

// Trait is a key with an optional value attached to a discovered test.
type Trait struct {
	Key   string  `json:"key" yaml:"key" msgpack:"key"`
	Value *string `json:"value,omitempty" yaml:"value,omitempty" msgpack:"value,omitempty"`
}

// DiscoveredTest is a test reported by the child executable during discovery.
// Created by the child, never mutated by the controller.
type DiscoveredTest struct {
	// UID identifies the test. Conventionally a GUID, but not guaranteed.
	UID string `json:"uid" yaml:"uid" msgpack:"uid"`
	// DisplayName is the human-readable name.
	DisplayName string `json:"display_name" yaml:"display_name" msgpack:"display_name"`
	// FilePath is the source file declaring the test, if known.
	FilePath *string `json:"file_path,omitempty" yaml:"file_path,omitempty" msgpack:"file_path,omitempty"`
	// LineNumber is the source line, if known.
	LineNumber *int32 `json:"line_number,omitempty" yaml:"line_number,omitempty" msgpack:"line_number,omitempty"`
	// Namespace, TypeName and MethodName locate the test in the host's code.
	Namespace  *string `json:"namespace,omitempty" yaml:"namespace,omitempty" msgpack:"namespace,omitempty"`
	TypeName   *string `json:"type_name,omitempty" yaml:"type_name,omitempty" msgpack:"type_name,omitempty"`
	MethodName *string `json:"method_name,omitempty" yaml:"method_name,omitempty" msgpack:"method_name,omitempty"`
	// Traits are ordered key/value pairs.
	Traits []Trait `json:"traits,omitempty" yaml:"traits,omitempty" msgpack:"traits,omitempty"`
}

// TraitValue returns the value of the first trait with the given key.
func (t DiscoveredTest) TraitValue(key string) (string, bool) {
	for _, tr := range t.Traits {
		if tr.Key != key {
			continue
		}
		if tr.Value == nil {
			return "", true
		}
		return *tr.Value, true
	}
	return "", false
}

// UIDs returns the ids of tests in order.
func UIDs(tests []DiscoveredTest) []string {
	ids := make([]string, len(tests))
	for i, t := range tests {
		ids[i] = t.UID
	}
	return ids
}

// StrPtr returns a pointer to s.
func StrPtr(s string) *string { return &s }
