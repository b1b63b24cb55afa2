package docgen

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRenderMarkdownConfigSchema(t *testing.T) {
	s, err := GenerateConfigSchema()
	if err != nil {
		t.Fatalf("GenerateConfigSchema: %v", err)
	}

	var buf bytes.Buffer
	if err := RenderMarkdown(&buf, s); err != nil {
		t.Fatalf("RenderMarkdown: %v", err)
	}

	md := buf.String()
	if md == "" {
		t.Fatal("empty markdown output")
	}

	for _, section := range []string{"## Weft", "## Workspace", "## ReconcileConfig", "## SupervisorConfig"} {
		if !strings.Contains(md, section) {
			t.Errorf("missing section %q", section)
		}
	}

	// The root type leads; everything else is alphabetical after it.
	weftIdx := strings.Index(md, "## Weft\n")
	wsIdx := strings.Index(md, "## Workspace")
	if weftIdx > wsIdx {
		t.Error("Weft section should come before Workspace section")
	}
}

func TestRenderMarkdownTableFormat(t *testing.T) {
	s, err := GenerateConfigSchema()
	if err != nil {
		t.Fatalf("GenerateConfigSchema: %v", err)
	}

	var buf bytes.Buffer
	if err := RenderMarkdown(&buf, s); err != nil {
		t.Fatalf("RenderMarkdown: %v", err)
	}

	for _, line := range strings.Split(buf.String(), "\n") {
		if !strings.HasPrefix(line, "|") {
			continue
		}
		// Each table row has 4 columns, so 5 pipes.
		if pipes := strings.Count(line, "|"); pipes != 5 {
			t.Errorf("table row has %d pipes, want 5: %q", pipes, line)
		}
	}
}

func TestWriteMarkdownAtomic(t *testing.T) {
	s, err := GenerateConfigSchema()
	if err != nil {
		t.Fatalf("GenerateConfigSchema: %v", err)
	}

	path := filepath.Join(t.TempDir(), "config.md")
	if err := WriteMarkdown(path, s); err != nil {
		t.Fatalf("WriteMarkdown: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if !strings.HasPrefix(string(data), "# Weft Configuration") {
		t.Errorf("output missing title: %.60q", string(data))
	}

	// No temp droppings left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".genschema-") {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
}
