package docgen

import (
	"encoding/json"
	"strings"
	"testing"
)

// defProperties extracts the properties map for a named $defs entry.
func defProperties(t *testing.T, raw map[string]interface{}, defName string) map[string]interface{} {
	t.Helper()
	defs, ok := raw["$defs"].(map[string]interface{})
	if !ok {
		t.Fatal("no $defs")
	}
	def, ok := defs[defName].(map[string]interface{})
	if !ok {
		t.Fatalf("no %s definition in $defs", defName)
	}
	props, ok := def["properties"].(map[string]interface{})
	if !ok {
		t.Fatalf("%s has no properties", defName)
	}
	return props
}

func TestGenerateConfigSchema(t *testing.T) {
	s, err := GenerateConfigSchema()
	if err != nil {
		t.Fatalf("GenerateConfigSchema: %v", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	// Weft properties are in $defs.Weft (schema uses $ref at top level).
	props := defProperties(t, raw, "Weft")
	for _, expected := range []string{"workspace", "events", "reconcile", "checkpoint", "supervisor", "dispatch"} {
		if _, ok := props[expected]; !ok {
			t.Errorf("missing Weft property %q", expected)
		}
	}
	// Should NOT have Go-style names.
	for _, bad := range []string{"Workspace", "Events", "Reconcile"} {
		if _, ok := props[bad]; ok {
			t.Errorf("found Go-style property %q, expected TOML name", bad)
		}
	}
}

func TestConfigSchemaDescriptions(t *testing.T) {
	s, err := GenerateConfigSchema()
	if err != nil {
		t.Fatalf("GenerateConfigSchema: %v", err)
	}

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	// Doc comments from the config package should survive as
	// descriptions somewhere in the schema.
	if !strings.Contains(string(data), "description") {
		t.Error("schema has no descriptions, AddGoComments not applied")
	}
}

func TestModuleRoot(t *testing.T) {
	root, err := ModuleRoot()
	if err != nil {
		t.Fatalf("ModuleRoot: %v", err)
	}
	if root == "" {
		t.Fatal("empty module root")
	}
}
