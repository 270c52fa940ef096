package main

import (
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"

	"evalgate/internal/domain"
)

func TestCell(t *testing.T) {
	plain := lipgloss.NewStyle()
	tests := []struct {
		in   string
		w    int
		want string
	}{
		{"abc", 5, "abc  "},
		{"abcdef", 4, "abc~"},
		{"abc", 0, "abc"},
	}
	for _, tt := range tests {
		got := cell(plain, tt.in, tt.w)
		if strings.TrimRight(got, " ") != strings.TrimRight(tt.want, " ") {
			t.Errorf("cell(%q, %d) = %q, want %q", tt.in, tt.w, got, tt.want)
		}
	}
}

func TestRenderPromotions(t *testing.T) {
	recs := []domain.PromotionRecord{{
		StrategyID: "sma-spy@abc",
		State:      domain.StatePaperTesting,
		EnteredAt:  time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC),
		Baseline:   domain.PerformanceBaseline{TotalReturn: 0.125, Sharpe: 1.4},
		Snapshot:   &domain.LiveSnapshot{Return: -0.02},
	}}
	out := renderPromotions(recs)
	for _, want := range []string{"STRATEGY", "sma-spy@abc", "paper_testing", "+12.50%", "1.40", "-2.00%"} {
		if !strings.Contains(out, want) {
			t.Errorf("renderPromotions output missing %q:\n%s", want, out)
		}
	}
	if out := renderPromotions(nil); !strings.Contains(out, "no strategies") {
		t.Errorf("empty output = %q", out)
	}
}
