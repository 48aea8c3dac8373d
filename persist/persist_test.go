package persist_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jt05610/drawbot"
	"github.com/jt05610/drawbot/persist"
)

func sample() persist.Bindings {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return persist.Bindings{
		"X1 Axis": {Address: 3, Firmware: "086-005a", BoundAt: at},
		"X2 Axis": {Address: 4, Firmware: "086-005a", BoundAt: at},
		"Y Axis":  {Address: 7, Firmware: "086-005a", BoundAt: at},
	}
}

func check(t *testing.T, got persist.Bindings) {
	t.Helper()
	want := sample()
	if len(got) != len(want) {
		t.Fatalf("expected %d bindings, got %d", len(want), len(got))
	}
	for name, w := range want {
		g, ok := got[name]
		if !ok {
			t.Fatalf("missing %q", name)
		}
		if g.Address != w.Address || g.Firmware != w.Firmware || !g.BoundAt.Equal(w.BoundAt) {
			t.Fatalf("%s: expected %+v, got %+v", name, w, g)
		}
	}
}

func TestFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), persist.DefaultFile)
	f := persist.NewFile(path)

	t.Run("Missing", func(t *testing.T) {
		b, err := f.Load(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(b) != 0 {
			t.Fatalf("expected no bindings, got %v", b)
		}
	})

	t.Run("SaveLoad", func(t *testing.T) {
		if err := f.Save(ctx, sample()); err != nil {
			t.Fatal(err)
		}
		b, err := f.Load(ctx)
		if err != nil {
			t.Fatal(err)
		}
		check(t, b)
		if names := b.Names(); names[0] != "X1 Axis" || names[2] != "Y Axis" {
			t.Fatalf("unexpected order %v", names)
		}
	})

	t.Run("Corrupt", func(t *testing.T) {
		if err := os.WriteFile(path, []byte("nodes: [this is: not a map"), 0o644); err != nil {
			t.Fatal(err)
		}
		_, err := f.Load(ctx)
		var cfgErr *drawbot.ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("expected configuration error, got %v", err)
		}
	})

	t.Run("NegativeAddress", func(t *testing.T) {
		if err := os.WriteFile(path, []byte("nodes:\n  Y Axis:\n    address: -1\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		_, err := f.Load(ctx)
		var cfgErr *drawbot.ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("expected configuration error, got %v", err)
		}
	})

	t.Run("DuplicateAddress", func(t *testing.T) {
		doc := "nodes:\n  X1 Axis:\n    address: 3\n  Y Axis:\n    address: 3\n"
		if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
			t.Fatal(err)
		}
		_, err := f.Load(ctx)
		var cfgErr *drawbot.ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("expected configuration error, got %v", err)
		}
		if !strings.Contains(err.Error(), `"X1 Axis" and "Y Axis"`) {
			t.Fatalf("unexpected error %v", err)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			t.Fatal(err)
		}
		b, err := f.Load(ctx)
		if err != nil || len(b) != 0 {
			t.Fatalf("expected empty bindings, got %v %v", b, err)
		}
	})
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := persist.NewMemory(nil)
	if err := m.Save(ctx, sample()); err != nil {
		t.Fatal(err)
	}
	b, _ := m.Load(ctx)
	check(t, b)
	b["Z Axis"] = persist.Binding{Address: 9}
	again, _ := m.Load(ctx)
	if _, ok := again["Z Axis"]; ok {
		t.Fatal("Load returned internal storage")
	}
}

func TestCouch(t *testing.T) {
	uri, ok := os.LookupEnv("COUCHDB_URI")
	if !ok {
		t.Skip("COUCHDB_URI not set")
	}
	ctx := context.Background()
	c, err := persist.OpenCouch(ctx, uri, "drawbot_test_bindings")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Save(ctx, sample()); err != nil {
		t.Fatal(err)
	}
	// saving twice exercises the revision lookup
	if err := c.Save(ctx, sample()); err != nil {
		t.Fatal(err)
	}
	b, err := c.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	check(t, b)
}
