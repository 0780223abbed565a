package agent

import (
	"fmt"
	"strings"

	"github.com/zapdeskhq/zapdesk/internal/store"
)

// buildSystemPrompt concatenates the agent's configured template with a
// rendered conversation-context block and the fixed instruction block.
func buildSystemPrompt(agent *store.AgentConfig, conv *store.Conversation) string {
	contactName := conv.ContactName
	if contactName == "" {
		contactName = "Cliente"
	}
	priority := conv.Priority
	if priority == "" {
		priority = "normal"
	}

	var b strings.Builder
	b.WriteString(agent.SystemPrompt)
	b.WriteString("\n\nCONTEXTO DA CONVERSA:\n")
	fmt.Fprintf(&b, "- Nome do cliente: %s\n", contactName)
	fmt.Fprintf(&b, "- Telefone: %s\n", conv.Phone)
	fmt.Fprintf(&b, "- Prioridade: %s\n", priority)
	fmt.Fprintf(&b, "- Total de mensagens: %d\n", conv.TotalMessages)
	b.WriteString(`
INSTRUÇÕES IMPORTANTES:
1. Responda sempre em português do Brasil
2. Seja educado, profissional e empático
3. Se não souber a resposta, admita e ofereça alternativas
4. Detecte o sentimento do cliente (positivo, neutro, negativo, frustrado)
5. Se o cliente estiver frustrado ou pedir para falar com humano, defina shouldHandoff como true
6. Inclua as fontes utilizadas quando aplicável

CRITÉRIOS PARA TRANSFERÊNCIA (shouldHandoff = true):
- Cliente explicitamente pede para falar com atendente/humano
- Cliente expressa frustração repetida (3+ mensagens negativas)
- Assunto sensível (reclamação formal, problema financeiro, dados pessoais)
- Você não consegue ajudar após 2 tentativas
- Detecção de urgência real (emergência, prazo crítico)`)

	return b.String()
}
