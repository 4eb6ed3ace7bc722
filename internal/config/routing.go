// ABOUTME: Loads keyword routes and clarification flows from a standalone routing file
// ABOUTME: TOML files keep key order through toml.MetaData.Keys; YAML files reuse the ordered decoders

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// RoutingRules are the routing tables that may live outside the main config.
type RoutingRules struct {
	KeywordRoutes      KeywordRoutes      `yaml:"keyword_routes"`
	ClarificationFlows ClarificationFlows `yaml:"clarification_flows"`
}

type tomlRouting struct {
	KeywordRoutes      map[string][]string          `toml:"keyword_routes"`
	ClarificationFlows map[string]ClarificationFlow `toml:"clarification_flows"`
}

// LoadRoutingFile reads routing rules from path. The format is chosen by
// extension: .toml for TOML, .yaml or .yml for YAML.
func LoadRoutingFile(path string) (*RoutingRules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading routing file: %w", err)
	}
	expanded := expandEnvVars(string(data))

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		return parseRoutingTOML(expanded)
	case ".yaml", ".yml":
		var rules RoutingRules
		if err := yaml.Unmarshal([]byte(expanded), &rules); err != nil {
			return nil, fmt.Errorf("parsing routing file: %w", err)
		}
		return &rules, nil
	default:
		return nil, fmt.Errorf("unsupported routing file extension %q", ext)
	}
}

// parseRoutingTOML decodes TOML routing rules. Go maps lose declaration order,
// so the order is rebuilt from the decoder metadata.
func parseRoutingTOML(data string) (*RoutingRules, error) {
	var raw tomlRouting
	md, err := toml.Decode(data, &raw)
	if err != nil {
		return nil, fmt.Errorf("parsing routing file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("parsing routing file: unknown keys %v", undecoded)
	}

	rules := &RoutingRules{}
	seenRoute := make(map[string]bool)
	seenFlow := make(map[string]bool)

	for _, key := range md.Keys() {
		if len(key) != 2 {
			continue
		}
		name := key[1]
		switch key[0] {
		case "keyword_routes":
			if seenRoute[name] {
				continue
			}
			seenRoute[name] = true
			rules.KeywordRoutes = append(rules.KeywordRoutes, KeywordRoute{
				SectorSlug: name,
				Phrases:    raw.KeywordRoutes[name],
			})
		case "clarification_flows":
			if seenFlow[name] {
				continue
			}
			seenFlow[name] = true
			flow := raw.ClarificationFlows[name]
			flow.Trigger = name
			rules.ClarificationFlows = append(rules.ClarificationFlows, flow)
		}
	}

	return rules, nil
}
