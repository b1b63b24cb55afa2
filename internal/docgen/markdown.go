package docgen

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"
)

// RenderMarkdown writes a markdown reference document from a JSON
// Schema. It walks the $defs, rendering one section per type with a
// table of fields. The root type comes first, remaining types follow
// alphabetically.
func RenderMarkdown(w io.Writer, s *jsonschema.Schema) error {
	title := s.Title
	if title == "" {
		title = "Configuration Reference"
	}
	if _, err := fmt.Fprintf(w, "# %s\n\n", title); err != nil {
		return err
	}
	if s.Description != "" {
		if _, err := fmt.Fprintf(w, "%s\n\n", s.Description); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "> **Auto-generated**: do not edit. Run `go run ./cmd/genschema` to regenerate.\n\n"); err != nil {
		return err
	}
	if s.Definitions == nil {
		return nil
	}

	for _, name := range definitionOrder(s) {
		def := s.Definitions[name]
		if def == nil || def.Properties == nil {
			continue
		}
		if err := renderType(w, name, def); err != nil {
			return err
		}
	}
	return nil
}

// definitionOrder sorts $defs names with the root type ("#/$defs/Weft"
// style $ref) first.
func definitionOrder(s *jsonschema.Schema) []string {
	rootName := ""
	if s.Ref != "" {
		rootName = refName(s.Ref)
	}
	names := make([]string, 0, len(s.Definitions))
	for name := range s.Definitions {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if names[i] == rootName {
			return true
		}
		if names[j] == rootName {
			return false
		}
		return names[i] < names[j]
	})
	return names
}

// renderType writes one "## TypeName" section with its field table.
func renderType(w io.Writer, name string, def *jsonschema.Schema) error {
	if _, err := fmt.Fprintf(w, "## %s\n\n", name); err != nil {
		return err
	}
	if def.Description != "" {
		if _, err := fmt.Fprintf(w, "%s\n\n", def.Description); err != nil {
			return err
		}
	}

	reqSet := make(map[string]bool)
	for _, r := range def.Required {
		reqSet[r] = true
	}

	if _, err := fmt.Fprintf(w, "| Field | Type | Required | Description |\n|-------|------|----------|-------------|\n"); err != nil {
		return err
	}
	for pair := def.Properties.Oldest(); pair != nil; pair = pair.Next() {
		req := ""
		if reqSet[pair.Key] {
			req = "**yes**"
		}
		if _, err := fmt.Fprintf(w, "| `%s` | %s | %s | %s |\n",
			pair.Key, schemaTypeString(pair.Value), req, formatDescription(pair.Value)); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w)
	return err
}

// WriteMarkdown generates a markdown file from a schema using atomic
// write (temp + rename).
func WriteMarkdown(path string, s *jsonschema.Schema) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".genschema-md-*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()

	if err := RenderMarkdown(tmp, s); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("rendering %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("renaming %s: %w", path, err)
	}
	return nil
}

// schemaTypeString returns a human-readable type string for a property.
func schemaTypeString(prop *jsonschema.Schema) string {
	if prop.Ref != "" {
		return refName(prop.Ref)
	}
	switch prop.Type {
	case "array":
		if prop.Items != nil {
			if prop.Items.Ref != "" {
				return "[]" + refName(prop.Items.Ref)
			}
			return "[]" + prop.Items.Type
		}
		return "array"
	case "object":
		if prop.AdditionalProperties != nil {
			if prop.AdditionalProperties.Ref != "" {
				return "map[string]" + refName(prop.AdditionalProperties.Ref)
			}
			return "map[string]" + prop.AdditionalProperties.Type
		}
		return "object"
	default:
		if prop.Type != "" {
			return prop.Type
		}
		return "any"
	}
}

// refName extracts the type name from a $ref path like "#/$defs/Weft".
func refName(ref string) string {
	parts := strings.Split(ref, "/")
	return parts[len(parts)-1]
}

// formatDescription returns the description, appending enum values if
// present, flattened for markdown table cells.
func formatDescription(prop *jsonschema.Schema) string {
	desc := prop.Description
	if len(prop.Enum) > 0 {
		vals := make([]string, len(prop.Enum))
		for i, v := range prop.Enum {
			vals[i] = fmt.Sprintf("`%v`", v)
		}
		enumStr := "Enum: " + strings.Join(vals, ", ")
		if desc != "" {
			desc += " " + enumStr
		} else {
			desc = enumStr
		}
	}
	desc = strings.ReplaceAll(desc, "\n", " ")
	desc = strings.ReplaceAll(desc, "|", "\\|")
	return desc
}
