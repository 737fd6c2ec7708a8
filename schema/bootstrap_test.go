package schema

import (
	"strings"
	"testing"
)

func TestReadModelDDL(t *testing.T) {
	ddl := readModelDDL("order_totals")
	want := `CREATE TABLE IF NOT EXISTS prism_rm_order_totals (
	id TEXT PRIMARY KEY,
	data JSONB NOT NULL,
	version INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	if ddl != want {
		t.Errorf("got:\n%s\nwant:\n%s", ddl, want)
	}
}

func TestEventsDDL_KeysStreamAndVersion(t *testing.T) {
	ddl := eventsDDL()
	if !strings.Contains(ddl, "CREATE TABLE IF NOT EXISTS prism_events") {
		t.Errorf("unexpected table name in:\n%s", ddl)
	}
	if !strings.Contains(ddl, "PRIMARY KEY (stream_id, version)") {
		t.Errorf("events must be keyed by stream and version:\n%s", ddl)
	}
}

func TestProjectionsDDL(t *testing.T) {
	ddl := projectionsDDL()
	want := `CREATE TABLE IF NOT EXISTS prism_projections (
	name TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	positions JSONB NOT NULL DEFAULT '{}',
	state JSONB NOT NULL DEFAULT '{}',
	locked_until TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	if ddl != want {
		t.Errorf("got:\n%s\nwant:\n%s", ddl, want)
	}
}

func TestValidateReadModelName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"order_totals", true},
		{"Balances2", true},
		{"", false},
		{"drop table;--", false},
		{"has space", false},
		{"has-dash", false},
		{"1starts_with_digit", false},
	}
	for _, tt := range tests {
		err := ValidateReadModelName(tt.name)
		if (err == nil) != tt.valid {
			t.Errorf("ValidateReadModelName(%q): got err=%v, wantValid=%v", tt.name, err, tt.valid)
		}
	}
}

func TestBootstrap_TracksCreated(t *testing.T) {
	b := New()
	if b.IsCreated(ProjectionsTable) {
		t.Error("should not be created yet")
	}
	b.MarkCreated(ProjectionsTable)
	if !b.IsCreated(ProjectionsTable) {
		t.Error("should be created")
	}
	b.InvalidateTable(ProjectionsTable)
	if b.IsCreated(ProjectionsTable) {
		t.Error("should be forgotten after invalidation")
	}
}
