package google

import (
	"context"
	"os"
	"testing"

	"lufashion/internal/core"
	ports "lufashion/internal/export"
)

func TestNewFromEnv_MissingSpreadsheetID(t *testing.T) {
	oldID := os.Getenv("GOOGLE_SPREADSHEET_ID")
	defer os.Setenv("GOOGLE_SPREADSHEET_ID", oldID)
	os.Unsetenv("GOOGLE_SPREADSHEET_ID")

	_, err := NewFromEnv(context.Background())
	if err == nil {
		t.Fatal("expected error for missing GOOGLE_SPREADSHEET_ID")
	}
	if err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestYearPrefixedName(t *testing.T) {
	tests := []struct {
		base string
		year int
		want string
	}{
		{"Notas", 2025, "2025 Notas"},
		{"2024 Notas", 2025, "2024 Notas"},
		{"  Notas  ", 2025, "2025 Notas"},
		{"", 2025, ""},
	}
	for _, tt := range tests {
		if got := yearPrefixedName(tt.base, tt.year); got != tt.want {
			t.Errorf("yearPrefixedName(%q, %d) = %q, want %q", tt.base, tt.year, got, tt.want)
		}
	}
}

func TestKindLabel(t *testing.T) {
	if got := kindLabel(core.KindCharge); got != "Adição" {
		t.Errorf("charge label = %q", got)
	}
	if got := kindLabel(core.KindPayment); got != "Pagamento" {
		t.Errorf("payment label = %q", got)
	}
}

func TestAppendWithoutService(t *testing.T) {
	c := &Client{spreadsheetID: "test"}
	if _, err := c.Append(context.Background(), ports.Row{CustomerName: "Maria"}); err == nil {
		t.Fatal("expected error when service is not initialized")
	}
}
