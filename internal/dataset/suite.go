package dataset

import "maps"

// ExpectationConfig is one configured expectation: its type and arguments.
type ExpectationConfig struct {
	Type   string         `json:"expectation_type" yaml:"expectation_type"`
	Kwargs map[string]any `json:"kwargs" yaml:"kwargs"`
}

// Column returns the "column" argument, if any.
func (c ExpectationConfig) Column() string {
	column, _ := c.Kwargs["column"].(string)
	return column
}

// Suite is an ordered set of expectations for one data asset.
type Suite struct {
	DataAssetName string              `json:"data_asset_name"`
	Name          string              `json:"expectation_suite_name"`
	Expectations  []ExpectationConfig `json:"expectations"`
}

const DefaultSuiteName = "default"

func NewSuite(dataAssetName, name string) *Suite {
	if name == "" {
		name = DefaultSuiteName
	}
	return &Suite{DataAssetName: dataAssetName, Name: name, Expectations: []ExpectationConfig{}}
}

// Clone returns a copy that shares no expectation storage with s.
func (s *Suite) Clone() *Suite {
	out := *s
	out.Expectations = make([]ExpectationConfig, len(s.Expectations))
	for i, cfg := range s.Expectations {
		out.Expectations[i] = ExpectationConfig{Type: cfg.Type, Kwargs: maps.Clone(cfg.Kwargs)}
	}
	return &out
}

// Add appends cfg, replacing an existing expectation of the same type on the
// same column.
func (s *Suite) Add(cfg ExpectationConfig) {
	for i, existing := range s.Expectations {
		if existing.Type == cfg.Type && existing.Column() == cfg.Column() {
			s.Expectations[i] = cfg
			return
		}
	}
	s.Expectations = append(s.Expectations, cfg)
}

// Remove drops every expectation of type expectationType on column.
func (s *Suite) Remove(expectationType, column string) int {
	kept := s.Expectations[:0]
	removed := 0
	for _, existing := range s.Expectations {
		if existing.Type == expectationType && existing.Column() == column {
			removed++
			continue
		}
		kept = append(kept, existing)
	}
	s.Expectations = kept
	return removed
}
