// Package rules parses and evaluates the data-driven rules attached to
// games, achievements and leaderboards.
//
// Each rule family is a closed set of variants selected by the "type"
// key of the stored document. Documents are parsed once, when loaded
// from storage or from a catalog file; unknown kinds fail to parse.
// Parameter problems that only show up at evaluation time (a zero
// threshold, say) are reported as a Warning next to the result instead
// of an error so that bad configuration never aborts progression.
package rules

import (
	"errors"
	"fmt"
	"math"

	"github.com/alexbotov/progression/internal/domain"
)

// Rule families
const (
	FamilyRequirement   = "requirement"
	FamilyRanking       = "ranking_criteria"
	FamilyXPCalculation = "xp_calculation"
)

var (
	ErrUnknownKind  = errors.New("unknown rule kind")
	ErrMissingParam = errors.New("missing rule parameter")
	ErrInvalidParam = errors.New("invalid rule parameter")
)

// Warning describes a malformed or incomplete rule met during evaluation
type Warning struct {
	Family  string `json:"family"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s rule %q: %s", w.Family, w.Kind, w.Message)
}

// Progress is the measured distance to a requirement
type Progress struct {
	Current    float64 `json:"current"`
	Required   float64 `json:"required"`
	Percentage int     `json:"percentage"`
}

// Map converts progress to its stored form
func (p Progress) Map() domain.JSONMap {
	return domain.JSONMap{
		"current":    p.Current,
		"required":   p.Required,
		"percentage": p.Percentage,
	}
}

// NewProgress computes min(100, floor(current/required*100)).
// A non-positive required value yields zero percent and ok=false.
func NewProgress(current, required float64) (Progress, bool) {
	p := Progress{Current: current, Required: required}
	if required <= 0 {
		return p, false
	}
	pct := math.Floor(current / required * 100)
	switch {
	case pct > 100:
		pct = 100
	case pct < 0:
		pct = 0
	}
	p.Percentage = int(pct)
	return p, true
}

func kindOf(doc domain.JSONMap) (string, error) {
	if doc == nil {
		return "", fmt.Errorf("%w: type", ErrMissingParam)
	}
	raw, ok := doc["type"]
	if !ok {
		return "", fmt.Errorf("%w: type", ErrMissingParam)
	}
	kind, ok := raw.(string)
	if !ok || kind == "" {
		return "", fmt.Errorf("%w: type must be a non-empty string", ErrInvalidParam)
	}
	return kind, nil
}

func numberParam(doc domain.JSONMap, key string, def float64) float64 {
	if n, ok := doc.Number(key); ok {
		return n
	}
	return def
}

func stringParam(doc domain.JSONMap, key string) (string, error) {
	raw, ok := doc[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingParam, key)
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: %s must be a non-empty string", ErrInvalidParam, key)
	}
	return s, nil
}

// subDoc returns the nested document under key. present is false when
// the key is absent or null.
func subDoc(doc domain.JSONMap, key string) (sub domain.JSONMap, present bool, err error) {
	raw, ok := doc[key]
	if !ok || raw == nil {
		return nil, false, nil
	}
	switch v := raw.(type) {
	case map[string]any:
		return domain.JSONMap(v), true, nil
	case domain.JSONMap:
		return v, true, nil
	}
	return nil, true, fmt.Errorf("%w: %s must be an object", ErrInvalidParam, key)
}
