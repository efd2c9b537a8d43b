package rotation

import (
	"strings"

	"github.com/outflowhq/outflow/pkg/models"
)

// Transfer trigger identifiers, in evaluation order. The first trigger in
// this order that matches an inbound message becomes the primary handoff
// reason.
const (
	TriggerDoubt       = "doubt"
	TriggerQualified   = "qualified"
	TriggerPrice       = "price"
	TriggerDemo        = "demo"
	TriggerCompetitor  = "competitor"
	TriggerUrgency     = "urgency"
	TriggerFrustration = "frustration"
)

var triggerOrder = []string{
	TriggerDoubt,
	TriggerQualified,
	TriggerPrice,
	TriggerDemo,
	TriggerCompetitor,
	TriggerUrgency,
	TriggerFrustration,
}

// triggerKeywords maps each trigger to its keyword list. Lists mix
// Portuguese and English because leads write in both.
var triggerKeywords = map[string][]string{
	TriggerDoubt: {
		"não entendi", "como funciona", "dúvida", "não sei",
		"pode explicar", "confuso", "complexo",
	},
	TriggerQualified: {
		"interessado", "quero saber mais", "me conta mais",
		"parece bom", "gostei", "vamos conversar",
	},
	TriggerPrice: {
		"preço", "quanto custa", "valor", "investimento", "custo",
		"orçamento", "budget", "pricing", "planos",
	},
	TriggerDemo: {
		"demo", "demonstração", "apresentação", "mostrar",
		"ver funcionando", "teste", "trial", "experimentar",
	},
	TriggerCompetitor: {
		"concorrente", "outra empresa", "já uso", "comparar",
		"diferença entre", "vs", "versus",
	},
	TriggerUrgency: {
		"urgente", "preciso agora", "rápido", "prazo", "deadline",
		"imediato", "hoje", "amanhã",
	},
	TriggerFrustration: {
		"frustrado", "irritado", "problema", "não funciona", "péssimo",
		"horrível", "decepcionado", "cansado",
	},
}

// TriggerMatch is the result of scanning one inbound message.
type TriggerMatch struct {
	ShouldTransfer bool
	Matched        []string

	// Reason is "trigger_<id>" for the first matched trigger, used as the
	// persisted handoff reason.
	Reason string
}

// CheckTransferTriggers scans a lead message against the agent's enabled
// transfer triggers. Matching is case-insensitive substring containment.
func CheckTransferTriggers(message string, agent *models.AgentDefinition) TriggerMatch {
	if message == "" || len(agent.TransferTriggers) == 0 {
		return TriggerMatch{}
	}

	enabled := make(map[string]bool, len(agent.TransferTriggers))
	for _, id := range agent.TransferTriggers {
		enabled[id] = true
	}

	messageLower := strings.ToLower(message)
	matched := make([]string, 0)

	for _, id := range triggerOrder {
		if !enabled[id] {
			continue
		}

		for _, keyword := range triggerKeywords[id] {
			if strings.Contains(messageLower, keyword) {
				matched = append(matched, id)

				break
			}
		}
	}

	if len(matched) == 0 {
		return TriggerMatch{}
	}

	return TriggerMatch{
		ShouldTransfer: true,
		Matched:        matched,
		Reason:         "trigger_" + matched[0],
	}
}
