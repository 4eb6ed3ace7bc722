// ABOUTME: Client-facing bot texts and message kinds
// ABOUTME: Texts are Brazilian Portuguese, formatted for WhatsApp markup

package triage

import (
	"fmt"
	"strings"

	"github.com/2389/triage-gateway/internal/store"
)

// Message kinds stored on bot messages.
const (
	KindMenu           = "menu"
	KindMenuChoice     = "menu_choice"
	KindInvalidMenu    = "invalid_menu"
	KindKeywordMatch   = "keyword_match"
	KindClarifySector  = "clarify_sector"
	KindClarifyChoice  = "clarify_choice"
	KindClarifyInvalid = "clarify_invalid"
	KindAIMatch        = "ai_match"
	KindAIClarify      = "ai_clarify"
	KindHandoff        = "handoff"
	KindTriageNudge    = "triage_nudge"
)

const (
	textNoSectors = "Olá! Bem-vindo ao nosso atendimento. Em breve um atendente entrará em contato."
	textHandoff   = "Certo! Vou te encaminhar para um atendente humano. Aguarde um instante."
	textNudge     = "Para escolher, responda com o *número do setor* acima. Se preferir, digite *menu* para ver as opções novamente ou descreva sua dúvida."
	invalidPrefix = "❌ Opção inválida!\n\n"
)

func writeSectorList(b *strings.Builder, sectors []*store.Sector) {
	for _, s := range sectors {
		fmt.Fprintf(b, "%s – %s\n", s.MenuCode, s.Name)
	}
}

func menuText(sectors []*store.Sector) string {
	if len(sectors) == 0 {
		return textNoSectors
	}
	var b strings.Builder
	b.WriteString("Olá! Para agilizar seu atendimento, escolha o setor digitando o número:\n\n")
	writeSectorList(&b, sectors)
	b.WriteString("\nDigite apenas o número do setor desejado *ou digite sua dúvida* (ex.: \"preciso de boleto\").")
	return b.String()
}

func invalidMenuText(sectors []*store.Sector) string {
	var b strings.Builder
	b.WriteString(invalidPrefix)
	b.WriteString("Por favor, escolha um dos setores abaixo digitando apenas o número:\n\n")
	writeSectorList(&b, sectors)
	return b.String()
}

func menuChoiceText(sector *store.Sector) string {
	return fmt.Sprintf("Setor *%s* selecionado com sucesso! Aguarde, em breve um atendente entrará em contato.", sector.Name)
}

func routedText(sector *store.Sector) string {
	return fmt.Sprintf("Entendi! Vou te direcionar para o setor *%s*. Aguarde, em breve um atendente entrará em contato.", sector.Name)
}
