// ABOUTME: Prompt construction shared by the classifier backends
// ABOUTME: Lists active sectors and asks for a strict JSON answer

package airouter

import (
	"fmt"
	"strings"
)

const systemPrompt = `Você é um classificador de atendimento. Escolha o setor mais adequado para a mensagem do cliente.
Responda somente com um objeto JSON com as chaves:
  "sector_slug": o slug de um dos setores listados, ou null se não tiver certeza;
  "confidence": número entre 0 e 1;
  "clarifying_question": uma pergunta curta para o cliente se precisar de mais informação, ou null.
Nunca invente setores que não estejam na lista.`

// buildUserPrompt renders the sector list and the client's message.
func buildUserPrompt(text string, sectors []SectorInfo) string {
	var b strings.Builder
	b.WriteString("Setores disponíveis:\n")
	for _, s := range sectors {
		fmt.Fprintf(&b, "- %s (%s, código %s)\n", s.Slug, s.Name, s.MenuCode)
	}
	b.WriteString("\nMensagem do cliente:\n")
	b.WriteString(text)
	return b.String()
}
