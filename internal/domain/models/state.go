package models

import (
	"fmt"
	"strings"
)

// RiskState is an ordinal credit-risk state. Default is absorbing.
type RiskState int

const (
	Stable RiskState = iota
	Elevated
	High
	Critical
	Default
)

// NumStates is the dimension of every transition matrix.
const NumStates = 5

// NumTransient counts the states that can still be left.
const NumTransient = NumStates - 1

var stateNames = [NumStates]string{"stable", "elevated", "high", "critical", "default"}

// AllStates lists states in matrix index order.
func AllStates() []RiskState {
	return []RiskState{Stable, Elevated, High, Critical, Default}
}

func (s RiskState) String() string {
	if !s.Valid() {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Valid reports whether s indexes a matrix row.
func (s RiskState) Valid() bool { return s >= Stable && s <= Default }

// IsTransient is false only for Default.
func (s RiskState) IsTransient() bool { return s.Valid() && s != Default }

// ParseRiskState accepts the lower-case names produced by String.
func ParseRiskState(name string) (RiskState, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, sn := range stateNames {
		if sn == n {
			return RiskState(i), nil
		}
	}
	return 0, fmt.Errorf("unknown risk state %q", name)
}

func (s RiskState) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid risk state %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *RiskState) UnmarshalText(b []byte) error {
	v, err := ParseRiskState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// DataSource records which stage of the calibration chain produced a matrix.
type DataSource string

const (
	SourcePrimaryFeed DataSource = "primary_feed"
	SourceTableA      DataSource = "table_a"
	SourceTableB      DataSource = "table_b"
	SourceDefault     DataSource = "default"
)

// IsValidSource returns true if ds names a known chain stage.
func IsValidSource(ds DataSource) bool {
	switch ds {
	case SourcePrimaryFeed, SourceTableA, SourceTableB, SourceDefault:
		return true
	default:
		return false
	}
}

// NormalizeSource converts a raw string to a known source, or the primary feed if empty/unknown.
func NormalizeSource(s string) DataSource {
	ds := DataSource(strings.ToLower(strings.TrimSpace(s)))
	if IsValidSource(ds) {
		return ds
	}
	return SourcePrimaryFeed
}
