package strategy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"evalgate/internal/domain"
)

// stubStrategy is a minimal Strategy implementation used in registry tests.
type stubStrategy struct {
	name string
}

func (s *stubStrategy) Name() string                 { return s.name }
func (s *stubStrategy) Init(_ context.Context) error { return nil }
func (s *stubStrategy) OnBar(_ context.Context, _ View) (domain.Signal, error) {
	return domain.Flat(), nil
}

func stubFactory(name string) Factory {
	return func(StrategySpec) (Strategy, error) { return &stubStrategy{name: name}, nil }
}

func TestRegistryRegisterAndBuild(t *testing.T) {
	r := NewRegistry()
	r.Register("test-strategy", stubFactory("test-strategy"))

	got, err := r.Build(StrategySpec{ID: "s1", Logic: "test-strategy"})
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if got.Name() != "test-strategy" {
		t.Errorf("Build returned strategy with Name() = %q, want %q", got.Name(), "test-strategy")
	}
}

func TestRegistryBuild_NotFound(t *testing.T) {
	r := NewRegistry()
	_, err := r.Build(StrategySpec{ID: "s1", Logic: "nonexistent"})
	if !errors.Is(err, ErrUnknownLogic) {
		t.Errorf("Build error = %v, want ErrUnknownLogic", err)
	}
}

func TestRegistryList(t *testing.T) {
	r := NewRegistry()
	r.Register("beta", stubFactory("beta"))
	r.Register("alpha", stubFactory("alpha"))

	names := r.List()
	if len(names) != 2 {
		t.Fatalf("List returned %d names, want 2", len(names))
	}
	// List returns sorted names.
	if names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("List returned %v, want [alpha beta]", names)
	}
}

func TestFingerprintStable(t *testing.T) {
	a := StrategySpec{ID: "x", Version: 1, Logic: "sma-cross", Params: map[string]float64{"short": 5, "long": 20}}
	b := StrategySpec{ID: "x", Version: 1, Logic: "sma-cross", Params: map[string]float64{"long": 20, "short": 5}}
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("fingerprint should not depend on map order")
	}

	c := a
	c.Params = map[string]float64{"short": 5, "long": 21}
	if a.Identity() == c.Identity() {
		t.Error("a parameter change must yield a new identity")
	}
	if got := a.Identity(); len(got) != len("x@")+12 {
		t.Errorf("Identity() = %q, want id@12-hex", got)
	}

	d := a
	d.Universe = []string{"QQQ"}
	if a.Identity() == d.Identity() {
		t.Error("a universe change must yield a new identity")
	}
	e := d
	e.Universe = []string{"qqq"}
	if d.Identity() != e.Identity() {
		t.Error("symbol case must not change the identity")
	}
	f := d
	f.Source = "func OnBar() {}"
	if d.Identity() == f.Identity() {
		t.Error("a source change must yield a new identity")
	}
}

func TestSpecValidate(t *testing.T) {
	if err := (StrategySpec{}).Validate(); err == nil {
		t.Error("empty spec should fail validation")
	}
	ok := StrategySpec{ID: "a", Logic: "flat", Universe: []string{"AAPL"}}
	if err := ok.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
	if ok.PrimarySymbol() != "AAPL" {
		t.Errorf("PrimarySymbol() = %q, want AAPL", ok.PrimarySymbol())
	}
}

func TestViewIsCapped(t *testing.T) {
	bars := make([]domain.Bar, 10)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range bars {
		bars[i] = domain.Bar{Timestamp: start.AddDate(0, 0, i), Close: float64(i + 1)}
	}

	v := NewView(bars, 2, 5)
	if v.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", v.Len())
	}
	if v.Last().Close != 6 {
		t.Errorf("Last().Close = %v, want 6", v.Last().Close)
	}
	if cap(v.bars) != v.Len() {
		t.Errorf("cap = %d, want %d; later bars would be reachable", cap(v.bars), v.Len())
	}

	closes := v.Closes()
	closes[0] = -1
	if v.Bar(0).Close != 3 {
		t.Error("Closes() must return a copy")
	}
}

func TestCandidateSource(t *testing.T) {
	r := NewRegistry()
	r.Register("stub", stubFactory("stub"))
	spec := StrategySpec{ID: "a", Logic: "stub", Universe: []string{"SPY"}, Source: "package x"}
	c, err := NewCandidate(r, spec)
	if err != nil {
		t.Fatalf("NewCandidate: %v", err)
	}
	if c.Source() != "package x" {
		t.Errorf("Source() = %q, want spec source", c.Source())
	}
}

func TestLoadSpecs(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	specs, err := LoadSpecs(write("ok.yaml", `
strategies:
  - id: sma-spy
    version: 1
    logic: sma-cross
    params: {fast: 10, slow: 50}
    universe: [SPY]
  - id: sma-spy
    version: 1
    logic: sma-cross
    params: {fast: 20, slow: 50}
    universe: [SPY]
`))
	if err != nil {
		t.Fatalf("LoadSpecs: %v", err)
	}
	if len(specs) != 2 || specs[0].Param("fast", 0) != 10 || specs[0].PrimarySymbol() != "SPY" {
		t.Errorf("specs = %+v", specs)
	}
	if specs[0].Identity() == specs[1].Identity() {
		t.Error("different params must give different identities")
	}

	if _, err := LoadSpecs(write("dup.yaml", `
strategies:
  - {id: a, logic: flat, universe: [SPY]}
  - {id: a, logic: flat, universe: [SPY]}
`)); err == nil {
		t.Error("LoadSpecs accepted duplicate identities")
	}
	if specs, err := LoadSpecs(write("universes.yaml", `
strategies:
  - {id: a, logic: flat, universe: [SPY]}
  - {id: a, logic: flat, universe: [QQQ]}
`)); err != nil || len(specs) != 2 {
		t.Errorf("LoadSpecs(same id, different universes) = %d specs, %v; want 2", len(specs), err)
	}
	if _, err := LoadSpecs(write("bad.yaml", `
strategies:
  - {id: a, universe: [SPY]}
`)); err == nil {
		t.Error("LoadSpecs accepted a spec without logic")
	}
}
