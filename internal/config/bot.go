// ABOUTME: Triage bot configuration: commands, reception sector, keyword routes and clarification flows
// ABOUTME: Ordered YAML mappings are decoded through yaml.Node so declaration order is preserved

package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// BotConfig configures the triage engine, lifecycle windows and the auto-closer.
type BotConfig struct {
	MenuCooldownMinutes  int  `yaml:"menu_cooldown_minutes"`
	ReopenWindowMinutes  int  `yaml:"reopen_window_minutes"`
	AutoCloseMinutes     int  `yaml:"auto_close_minutes"` // 0 disables the sweep
	AutoCloseSendMessage bool `yaml:"auto_close_send_message"`
	AutoCloseBatchSize   int  `yaml:"auto_close_batch_size"`

	AutoCloseInterval    time.Duration `yaml:"-"`
	AutoCloseIntervalRaw string        `yaml:"auto_close_interval"`

	MenuCommands         []string           `yaml:"menu_commands"`
	HumanHandoffCommands []string           `yaml:"human_handoff_commands"`
	ReceptionSector      ReceptionSector    `yaml:"reception_sector"`
	KeywordRoutes        KeywordRoutes      `yaml:"keyword_routes"`
	ClarificationFlows   ClarificationFlows `yaml:"clarification_flows"`

	// RoutingFile optionally replaces keyword_routes and clarification_flows
	// with the contents of a TOML or YAML file.
	RoutingFile string `yaml:"routing_file"`

	AIRouting AIRoutingConfig `yaml:"ai_routing"`
}

// ReceptionSector is created lazily when a client asks for a human.
type ReceptionSector struct {
	Name     string `yaml:"name" toml:"name"`
	Slug     string `yaml:"slug" toml:"slug"`
	MenuCode string `yaml:"menu_code" toml:"menu_code"`
	Active   bool   `yaml:"active" toml:"active"`
}

// KeywordRoute maps one sector slug to its phrases.
type KeywordRoute struct {
	SectorSlug string
	Phrases    []string
}

// KeywordRoutes is an ordered sector-slug to phrases mapping.
type KeywordRoutes []KeywordRoute

// UnmarshalYAML decodes a YAML mapping while keeping key order.
func (r *KeywordRoutes) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("keyword_routes: expected a mapping, got %s", nodeKind(value))
	}
	routes := make(KeywordRoutes, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		var phrases []string
		if err := value.Content[i+1].Decode(&phrases); err != nil {
			return fmt.Errorf("keyword_routes.%s: %w", value.Content[i].Value, err)
		}
		routes = append(routes, KeywordRoute{SectorSlug: value.Content[i].Value, Phrases: phrases})
	}
	*r = routes
	return nil
}

// ClarificationOption is one numbered answer of a clarification question.
type ClarificationOption struct {
	SectorSlug string `yaml:"sector_slug" toml:"sector_slug"`
	Label      string `yaml:"label" toml:"label"`
}

// ClarificationFlow is the question asked when Trigger appears in a message.
type ClarificationFlow struct {
	Trigger  string                `yaml:"-" toml:"-"`
	Question string                `yaml:"question" toml:"question"`
	Options  []ClarificationOption `yaml:"options" toml:"options"`
}

// ClarificationFlows is an ordered trigger to flow mapping. Earlier triggers win.
type ClarificationFlows []ClarificationFlow

// UnmarshalYAML decodes a YAML mapping while keeping key order.
func (f *ClarificationFlows) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("clarification_flows: expected a mapping, got %s", nodeKind(value))
	}
	flows := make(ClarificationFlows, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		var flow ClarificationFlow
		if err := value.Content[i+1].Decode(&flow); err != nil {
			return fmt.Errorf("clarification_flows.%s: %w", value.Content[i].Value, err)
		}
		flow.Trigger = value.Content[i].Value
		flows = append(flows, flow)
	}
	*f = flows
	return nil
}

func nodeKind(n *yaml.Node) string {
	switch n.Kind {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "document"
	}
}

// AIRoutingConfig configures the optional classifier fallback.
type AIRoutingConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Provider      string  `yaml:"provider"` // "openai" or "gemini"
	APIKey        string  `yaml:"api_key"`
	Model         string  `yaml:"model"`
	BaseURL       string  `yaml:"base_url"`
	MinConfidence float64 `yaml:"min_confidence"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// Known AI providers.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

func defaultBotConfig() BotConfig {
	return BotConfig{
		MenuCooldownMinutes:  5,
		ReopenWindowMinutes:  120,
		AutoCloseBatchSize:   200,
		AutoCloseIntervalRaw: "1m",
		MenuCommands:         []string{"menu", "voltar", "início", "inicio", "0"},
		HumanHandoffCommands: []string{"humano", "atendente", "pessoa", "suporte"},
		ReceptionSector: ReceptionSector{
			Name:     "Recepção",
			Slug:     "recepcao",
			MenuCode: "99",
			Active:   true,
		},
		AIRouting: AIRoutingConfig{
			Provider:      ProviderOpenAI,
			MinConfidence: 0.7,
			TimeoutRaw:    "15s",
		},
	}
}

// MenuCooldown is the minimum interval between automated prompts. Zero disables nudges.
func (b BotConfig) MenuCooldown() time.Duration {
	return time.Duration(b.MenuCooldownMinutes) * time.Minute
}

// ReopenWindow is how long after its last message a closed conversation is resumed.
func (b BotConfig) ReopenWindow() time.Duration {
	return time.Duration(b.ReopenWindowMinutes) * time.Minute
}

// AutoCloseAfter is the inactivity threshold for the sweep. Zero disables it.
func (b BotConfig) AutoCloseAfter() time.Duration {
	return time.Duration(b.AutoCloseMinutes) * time.Minute
}

// ApplyRouting replaces the routing tables with rules loaded from a routing file.
func (b *BotConfig) ApplyRouting(rules *RoutingRules) {
	if rules == nil {
		return
	}
	b.KeywordRoutes = rules.KeywordRoutes
	b.ClarificationFlows = rules.ClarificationFlows
}

// Validate checks the bot configuration. Malformed routing is fatal at startup.
func (b BotConfig) Validate() error {
	if b.MenuCooldownMinutes < 0 {
		return fmt.Errorf("menu_cooldown_minutes must not be negative")
	}
	if b.ReopenWindowMinutes < 0 {
		return fmt.Errorf("reopen_window_minutes must not be negative")
	}
	if b.AutoCloseMinutes < 0 {
		return fmt.Errorf("auto_close_minutes must not be negative")
	}
	if b.AutoCloseBatchSize <= 0 {
		return fmt.Errorf("auto_close_batch_size must be positive")
	}

	if err := validateCommands("menu_commands", b.MenuCommands); err != nil {
		return err
	}
	if err := validateCommands("human_handoff_commands", b.HumanHandoffCommands); err != nil {
		return err
	}

	rs := b.ReceptionSector
	if rs.Name == "" || rs.Slug == "" || rs.MenuCode == "" {
		return fmt.Errorf("reception_sector: name, slug and menu_code are required")
	}
	if !isDigits(rs.MenuCode) {
		return fmt.Errorf("reception_sector.menu_code %q must be numeric", rs.MenuCode)
	}

	seenSlugs := make(map[string]bool)
	for _, route := range b.KeywordRoutes {
		if route.SectorSlug == "" {
			return fmt.Errorf("keyword_routes: empty sector slug")
		}
		if seenSlugs[route.SectorSlug] {
			return fmt.Errorf("keyword_routes: duplicate sector slug %q", route.SectorSlug)
		}
		seenSlugs[route.SectorSlug] = true
		if len(route.Phrases) == 0 {
			return fmt.Errorf("keyword_routes.%s: at least one phrase is required", route.SectorSlug)
		}
		for _, p := range route.Phrases {
			if strings.TrimSpace(p) == "" {
				return fmt.Errorf("keyword_routes.%s: empty phrase", route.SectorSlug)
			}
		}
	}

	seenTriggers := make(map[string]bool)
	for _, flow := range b.ClarificationFlows {
		trigger := strings.TrimSpace(flow.Trigger)
		if trigger == "" {
			return fmt.Errorf("clarification_flows: empty trigger")
		}
		if seenTriggers[trigger] {
			return fmt.Errorf("clarification_flows: duplicate trigger %q", trigger)
		}
		seenTriggers[trigger] = true
		if strings.TrimSpace(flow.Question) == "" {
			return fmt.Errorf("clarification_flows.%s: question is required", trigger)
		}
		if len(flow.Options) == 0 {
			return fmt.Errorf("clarification_flows.%s: at least one option is required", trigger)
		}
		for i, opt := range flow.Options {
			if opt.SectorSlug == "" || opt.Label == "" {
				return fmt.Errorf("clarification_flows.%s.options[%d]: sector_slug and label are required", trigger, i)
			}
		}
	}

	if b.AIRouting.Enabled {
		switch b.AIRouting.Provider {
		case ProviderOpenAI, ProviderGemini:
		default:
			return fmt.Errorf("ai_routing.provider %q is not supported", b.AIRouting.Provider)
		}
		if b.AIRouting.APIKey == "" {
			return fmt.Errorf("ai_routing.api_key is required when ai routing is enabled")
		}
	}
	if b.AIRouting.MinConfidence < 0 || b.AIRouting.MinConfidence > 1 {
		return fmt.Errorf("ai_routing.min_confidence must be between 0 and 1")
	}

	return nil
}

func validateCommands(field string, cmds []string) error {
	for _, c := range cmds {
		if strings.TrimSpace(c) == "" {
			return fmt.Errorf("%s: empty command", field)
		}
	}
	return nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
