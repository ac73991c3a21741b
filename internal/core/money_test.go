package core

import "testing"

func TestParseDecimalToCents(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"12.34", 1234, false},
		{"12,34", 1234, false},
		{"200", 20000, false},
		{"0,5", 50, false},
		{",50", 50, false},
		{"12.345", 1234, false},
		{"12.346", 1235, false},
		{" 7,00 ", 700, false},
		{"", 0, true},
		{"0", 0, true},
		{"0,00", 0, true},
		{"-5", 0, true},
		{"+5", 0, true},
		{"1.2.3", 0, true},
		{"abc", 0, true},
		{"12,3a", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDecimalToCents(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDecimalToCents(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseDecimalToCents(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestMoneyValidate(t *testing.T) {
	if err := (Money{Cents: 1}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Money{Cents: 0}).Validate(); err == nil {
		t.Fatal("expected error for zero")
	}
	if err := (Money{Cents: -100}).Validate(); err == nil {
		t.Fatal("expected error for negative")
	}
}

func TestMoneyFormatBRL(t *testing.T) {
	tests := []struct {
		cents int64
		want  string
	}{
		{123456, "R$ 1234,56"},
		{100, "R$ 1,00"},
		{5, "R$ 0,05"},
		{0, "R$ 0,00"},
		{-3050, "-R$ 30,50"},
	}
	for _, tt := range tests {
		if got := (Money{Cents: tt.cents}).FormatBRL(); got != tt.want {
			t.Errorf("FormatBRL(%d) = %q, want %q", tt.cents, got, tt.want)
		}
	}
}

func TestMoneyMin(t *testing.T) {
	a := Money{Cents: 100}
	b := Money{Cents: 30}
	if got := a.Min(b); got != b {
		t.Errorf("Min = %v, want %v", got, b)
	}
	if got := b.Min(a); got != b {
		t.Errorf("Min = %v, want %v", got, b)
	}
}
