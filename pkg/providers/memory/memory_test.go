package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/gantry-io/gantry/pkg/engine"
)

func TestProvider_ReadMissing(t *testing.T) {
	p := New()
	resp, err := p.Read(context.Background(), engine.ReadRequest{
		ID: engine.ResourceID{Kind: "k", Name: "a"},
	})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if resp.Exists {
		t.Error("expected missing resource")
	}
}

func TestProvider_CreateUpdateDelete(t *testing.T) {
	id := engine.ResourceID{Kind: "k", Name: "a"}
	p := New()
	ctx := context.Background()

	_, err := p.CreateOrUpdate(ctx, engine.ApplyRequest{
		ID:         id,
		Action:     engine.ActionCreate,
		Properties: map[string]any{"sku": "basic"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = p.CreateOrUpdate(ctx, engine.ApplyRequest{
		ID:         id,
		Action:     engine.ActionUpdate,
		Properties: map[string]any{"tier": "hot"},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	read, err := p.Read(ctx, engine.ReadRequest{ID: id})
	if err != nil || !read.Exists {
		t.Fatalf("read after update: %v", err)
	}
	if read.Properties["sku"] != "basic" || read.Properties["tier"] != "hot" {
		t.Errorf("update must merge, got %v", read.Properties)
	}
	if read.Properties["id"] != "k/a" {
		t.Errorf("expected default output in stored state, got %v", read.Properties)
	}

	if err := p.Delete(ctx, engine.DeleteRequest{ID: id}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	read, _ = p.Read(ctx, engine.ReadRequest{ID: id})
	if read.Exists {
		t.Error("expected resource gone after delete")
	}
}

func TestProvider_ScriptedFailures(t *testing.T) {
	id := engine.ResourceID{Kind: "k", Name: "a"}
	p := New()
	boom := errors.New("boom")
	p.FailNext(id, boom)

	_, err := p.CreateOrUpdate(context.Background(), engine.ApplyRequest{ID: id, Action: engine.ActionCreate})
	if !errors.Is(err, boom) {
		t.Fatalf("expected scripted error, got: %v", err)
	}

	// Exhausted scripts succeed again.
	_, err = p.CreateOrUpdate(context.Background(), engine.ApplyRequest{ID: id, Action: engine.ActionCreate})
	if err != nil {
		t.Fatalf("expected success after scripts drained, got: %v", err)
	}
	if p.ApplyCalls(id) != 2 {
		t.Errorf("expected 2 mutation calls recorded, got %d", p.ApplyCalls(id))
	}
}
