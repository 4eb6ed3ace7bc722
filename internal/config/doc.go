// Package config handles configuration loading for triage-gateway.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable expansion.
// Load starts from Default() and decodes the file on top of it, so omitted keys
// keep their defaults. Validation runs once at startup; a malformed routing table
// or missing transport credentials stop the process.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path given with --config
//  2. Path from TRIAGE_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/triage/gateway.yaml (or ~/.config/triage/gateway.yaml)
//
// # Environment Variable Expansion
//
//	whatsapp:
//	  token: "${EVOLUTION_API_KEY}"
//
// Unset variables expand to the empty string.
//
// # Routing Tables
//
// keyword_routes and clarification_flows are YAML mappings whose key order is
// significant: matched sectors are reported in declaration order and the first
// matching clarification trigger wins.
//
//	bot:
//	  keyword_routes:
//	    financeiro: [boleto, pagamento, pix]
//	    cadastro: [senha, login]
//	  clarification_flows:
//	    boleto:
//	      question: "Boleto de qual assunto?"
//	      options:
//	        - {sector_slug: divida_ativa, label: "Dívida ativa"}
//	        - {sector_slug: fiscalizacao, label: "Fiscalização"}
//
// The same tables may live in a separate file referenced by bot.routing_file,
// either TOML or YAML:
//
//	[keyword_routes]
//	financeiro = ["boleto", "pix"]
//
//	[clarification_flows.boleto]
//	question = "Boleto de qual assunto?"
//	options = [
//	  { sector_slug = "divida_ativa", label = "Dívida ativa" },
//	  { sector_slug = "fiscalizacao", label = "Fiscalização" },
//	]
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax ("30s", "5m"). Bot windows
// that the operators think of in minutes (cooldown, reopen, auto-close) are
// plain integers.
package config
