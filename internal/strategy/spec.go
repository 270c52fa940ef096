package strategy

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// StrategySpec describes a candidate: which registered logic to run, with
// which parameters, over which symbols. A spec is treated as immutable once
// it has been backtested; changing any parameter yields a new Identity.
type StrategySpec struct {
	ID       string             `json:"id" yaml:"id"`
	Version  int                `json:"version" yaml:"version"`
	Logic    string             `json:"logic" yaml:"logic"`
	Params   map[string]float64 `json:"params,omitempty" yaml:"params"`
	Universe []string           `json:"universe" yaml:"universe"`
	Source   string             `json:"source,omitempty" yaml:"source"`
}

// Validate checks the fields every evaluation needs.
func (s StrategySpec) Validate() error {
	var errs []error
	if s.ID == "" {
		errs = append(errs, errors.New("strategy spec: id is empty"))
	}
	if s.Logic == "" {
		errs = append(errs, errors.New("strategy spec: logic is empty"))
	}
	if len(s.Universe) == 0 {
		errs = append(errs, errors.New("strategy spec: universe is empty"))
	}
	return errors.Join(errs...)
}

// Fingerprint is a SHA-256 over logic, version, the sorted parameter set,
// the universe in declared order (its first symbol is the one traded) and
// the source text.
func (s StrategySpec) Fingerprint() string {
	keys := make([]string, 0, len(s.Params))
	for k := range s.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(s.Logic)
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(s.Version))
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strconv.FormatFloat(s.Params[k], 'g', -1, 64))
	}
	b.WriteString("|universe=")
	b.WriteString(strings.ToUpper(strings.Join(s.Universe, ",")))
	b.WriteString("|source=")
	b.WriteString(strconv.Quote(s.Source))
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Identity is the key promotion records are stored under.
func (s StrategySpec) Identity() string {
	return s.ID + "@" + s.Fingerprint()[:12]
}

// Param returns the named parameter or def when it is absent.
func (s StrategySpec) Param(name string, def float64) float64 {
	if v, ok := s.Params[name]; ok {
		return v
	}
	return def
}

// PrimarySymbol is the symbol the backtest runs on.
func (s StrategySpec) PrimarySymbol() string {
	if len(s.Universe) == 0 {
		return ""
	}
	return s.Universe[0]
}

// specFile is the layout of a strategies file:
//
//	strategies:
//	  - id: sma-spy
//	    version: 1
//	    logic: sma-cross
//	    params: {short: 10, long: 50}
//	    universe: [SPY]
type specFile struct {
	Strategies []StrategySpec `yaml:"strategies"`
}

// LoadSpecs reads and validates the specs in a strategies file. Duplicate
// identities are rejected.
func LoadSpecs(path string) ([]StrategySpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f specFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	seen := make(map[string]bool, len(f.Strategies))
	var errs []error
	for i, s := range f.Strategies {
		if err := s.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("strategy %d: %w", i, err))
			continue
		}
		if id := s.Identity(); seen[id] {
			errs = append(errs, fmt.Errorf("strategy %d: duplicate identity %s", i, id))
		} else {
			seen[id] = true
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return f.Strategies, nil
}
