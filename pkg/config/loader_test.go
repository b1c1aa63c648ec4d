package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gantry-io/gantry/pkg/engine"
)

const sampleManifest = `
name: translator-stack
resources:
  - kind: resource.group
    name: main
    location: westeurope
  - kind: storage.account
    name: docs
    location: westeurope
    parent: resource.group/main
    properties:
      sku: Standard_LRS
  - kind: translator.service
    name: xlate
    location: westeurope
    dependsOn:
      - storage.account/docs
    properties:
      documentStore: ${storage.account/docs.endpoint}
      replicas: 2
`

func TestParse_Manifest(t *testing.T) {
	m, resources, err := Parse([]byte(sampleManifest), "test")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if m.Name != "translator-stack" {
		t.Errorf("expected stack name, got %q", m.Name)
	}
	if len(resources) != 3 {
		t.Fatalf("expected 3 resources, got %d", len(resources))
	}

	// Declaration order survives.
	if resources[0].ID != (engine.ResourceID{Kind: "resource.group", Name: "main"}) {
		t.Errorf("unexpected first resource: %v", resources[0].ID)
	}

	storage := resources[1]
	if storage.Parent == nil || storage.Parent.String() != "resource.group/main" {
		t.Errorf("expected parent resource.group/main, got %v", storage.Parent)
	}
	if storage.Properties["sku"].Literal != "Standard_LRS" {
		t.Errorf("expected literal sku, got %v", storage.Properties["sku"])
	}

	service := resources[2]
	if len(service.DependsOn) != 1 || service.DependsOn[0].String() != "storage.account/docs" {
		t.Errorf("expected explicit dependency, got %v", service.DependsOn)
	}
	ref := service.Properties["documentStore"].Ref
	if ref == nil {
		t.Fatal("expected documentStore to be a reference")
	}
	if ref.Target.String() != "storage.account/docs" || ref.Property != "endpoint" {
		t.Errorf("unexpected reference: %v", ref)
	}
	if service.Properties["replicas"].Literal != 2 {
		t.Errorf("expected int literal, got %v", service.Properties["replicas"].Literal)
	}
}

func TestParse_MissingName(t *testing.T) {
	_, _, err := Parse([]byte("resources: []"), "test")
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	if engine.ErrorCode(err) != engine.ErrCodeValidation {
		t.Errorf("expected code %s, got %s", engine.ErrCodeValidation, engine.ErrorCode(err))
	}
}

func TestParse_IncompleteResource(t *testing.T) {
	doc := `
name: s
resources:
  - kind: storage.account
`
	_, _, err := Parse([]byte(doc), "test")
	if err == nil {
		t.Fatal("expected validation error for missing resource name, got nil")
	}
	if engine.ErrorCode(err) != engine.ErrCodeValidation {
		t.Errorf("expected code %s, got %s", engine.ErrCodeValidation, engine.ErrorCode(err))
	}
}

func TestParse_MalformedReference(t *testing.T) {
	doc := `
name: s
resources:
  - kind: a
    name: x
    properties:
      target: ${not-an-identity}
`
	_, _, err := Parse([]byte(doc), "test")
	if err == nil {
		t.Fatal("expected validation error for malformed reference, got nil")
	}
	if engine.ErrorCode(err) != engine.ErrCodeValidation {
		t.Errorf("expected code %s, got %s", engine.ErrCodeValidation, engine.ErrorCode(err))
	}
}

func TestParse_MalformedParent(t *testing.T) {
	doc := `
name: s
resources:
  - kind: a
    name: x
    parent: no-slash
`
	_, _, err := Parse([]byte(doc), "test")
	if err == nil {
		t.Fatal("expected validation error for malformed parent, got nil")
	}
}

func TestParseReference(t *testing.T) {
	ref, err := ParseReference("${storage.account/docs.primaryEndpoint}")
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if ref.Target.Kind != "storage.account" || ref.Target.Name != "docs" {
		t.Errorf("unexpected target: %v", ref.Target)
	}
	if ref.Property != "primaryEndpoint" {
		t.Errorf("unexpected property: %q", ref.Property)
	}

	for _, bad := range []string{"${}", "${x}", "${k/n}", "${k/.p}", "${k/n.}"} {
		if _, err := ParseReference(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestLoadDir_MergesInLexicalOrder(t *testing.T) {
	dir := t.TempDir()
	first := `
name: stack
resources:
  - kind: k
    name: a
`
	second := `
name: ignored
resources:
  - kind: k
    name: b
`
	if err := os.WriteFile(filepath.Join(dir, "10-base.yaml"), []byte(first), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "20-extra.yml"), []byte(second), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("notes"), 0o644); err != nil {
		t.Fatal(err)
	}

	m, resources, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if m.Name != "stack" {
		t.Errorf("expected name from first manifest, got %q", m.Name)
	}
	if len(resources) != 2 {
		t.Fatalf("expected 2 resources, got %d", len(resources))
	}
	if resources[0].ID.Name != "a" || resources[1].ID.Name != "b" {
		t.Errorf("expected lexical file order, got %v then %v", resources[0].ID, resources[1].ID)
	}
}

func TestLoadDir_Empty(t *testing.T) {
	_, _, err := LoadDir(t.TempDir())
	if err == nil {
		t.Fatal("expected error for empty manifest directory, got nil")
	}
}
