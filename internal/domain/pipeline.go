package domain

// Имена фаз конвейера в порядке выполнения.
const (
	PhaseAnalysis = "analysis"
	PhaseResearch = "research"
	PhaseTrading  = "trading"
	PhaseRisk     = "risk"
)

// Ключи агентов.
const (
	AgentMarket       = "market"
	AgentNews         = "news"
	AgentFundamentals = "fundamentals"
	AgentSentiment    = "sentiment"
	AgentBull         = "bull"
	AgentBear         = "bear"
	AgentResearchMgr  = "research_manager"
	AgentTrader       = "trader"
	AgentRisky        = "risky"
	AgentSafe         = "safe"
	AgentNeutral      = "neutral"
	AgentRiskJudge    = "risk_judge"
)

// PhaseDef — статическая конфигурация одной фазы конвейера.
//
// Agents выполняются без заданного порядка (любое чередование валидно),
// FinalAgent — только после того как каждый обычный агент фазы достиг
// терминального статуса (COMPLETED или ERROR).
type PhaseDef struct {
	// Name — имя фазы.
	Name string `json:"name"`

	// Agents — обычные агенты фазы.
	Agents []string `json:"agents"`

	// FinalAgent — финальный (агрегирующий) агент фазы.
	// Пустая строка — финального агента нет.
	FinalAgent string `json:"final_agent,omitempty"`
}

// AllAgents возвращает всех агентов фазы, включая финального.
func (p PhaseDef) AllAgents() []string {
	if p.FinalAgent == "" {
		return p.Agents
	}
	return append(append([]string{}, p.Agents...), p.FinalAgent)
}

// HasAgent проверяет принадлежность агента фазе.
func (p PhaseDef) HasAgent(agent string) bool {
	for _, a := range p.AllAgents() {
		if a == agent {
			return true
		}
	}
	return false
}

// Pipeline — упорядоченный список фаз. Фаза N+1 не начинается,
// пока фаза N не станет полностью терминальной.
type Pipeline []PhaseDef

// DefaultPipeline возвращает стандартный конвейер анализа:
//
//	analysis → research → trading → risk
//
// Финальный агент последней фазы (risk_judge) завершает задачу.
func DefaultPipeline() Pipeline {
	return Pipeline{
		{
			Name:   PhaseAnalysis,
			Agents: []string{AgentMarket, AgentNews, AgentFundamentals, AgentSentiment},
		},
		{
			Name:       PhaseResearch,
			Agents:     []string{AgentBull, AgentBear},
			FinalAgent: AgentResearchMgr,
		},
		{
			Name:   PhaseTrading,
			Agents: []string{AgentTrader},
		},
		{
			Name:       PhaseRisk,
			Agents:     []string{AgentRisky, AgentSafe, AgentNeutral},
			FinalAgent: AgentRiskJudge,
		},
	}
}

// Phase возвращает конфигурацию фазы по имени.
func (p Pipeline) Phase(name string) (PhaseDef, bool) {
	for _, ph := range p {
		if ph.Name == name {
			return ph, true
		}
	}
	return PhaseDef{}, false
}

// PhaseOf возвращает имя фазы, которой принадлежит агент.
func (p Pipeline) PhaseOf(agent string) (string, bool) {
	for _, ph := range p {
		if ph.HasAgent(agent) {
			return ph.Name, true
		}
	}
	return "", false
}

// NextPhase возвращает фазу, следующую за указанной.
// ok=false, если фаза последняя или не найдена.
func (p Pipeline) NextPhase(name string) (PhaseDef, bool) {
	for i, ph := range p {
		if ph.Name == name && i+1 < len(p) {
			return p[i+1], true
		}
	}
	return PhaseDef{}, false
}

// IsLastPhase проверяет, является ли фаза последней в конвейере.
func (p Pipeline) IsLastPhase(name string) bool {
	return len(p) > 0 && p[len(p)-1].Name == name
}

// PhaseRecord — проекция состояния одной фазы, собранная из записей
// AgentRun. Используется API и координатором; сама по себе не хранится.
type PhaseRecord struct {
	// Name — имя фазы.
	Name string `json:"name"`

	// Agents — обычные агенты фазы с их текущими статусами.
	Agents []AgentRun `json:"agents"`

	// Final — финальный агент фазы (nil, если не объявлен).
	Final *AgentRun `json:"final,omitempty"`
}

// RegularsTerminal возвращает true, если все обычные агенты фазы
// достигли терминального статуса. Гейт финального агента.
func (r PhaseRecord) RegularsTerminal() bool {
	for _, a := range r.Agents {
		if !a.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// IsTerminal возвращает true, если фаза полностью завершена:
// все обычные агенты терминальны и финальный (если есть) терминален.
func (r PhaseRecord) IsTerminal() bool {
	if !r.RegularsTerminal() {
		return false
	}
	if r.Final != nil && !r.Final.Status.IsTerminal() {
		return false
	}
	return true
}

// BuildPhaseRecords собирает проекции фаз из конфигурации конвейера
// и записей агентов. Записи, не входящие в конфигурацию, игнорируются.
func BuildPhaseRecords(p Pipeline, runs []AgentRun) []PhaseRecord {
	byAgent := make(map[string]AgentRun, len(runs))
	for _, r := range runs {
		byAgent[r.Agent] = r
	}

	records := make([]PhaseRecord, 0, len(p))
	for _, ph := range p {
		rec := PhaseRecord{Name: ph.Name}
		for _, agent := range ph.Agents {
			if run, ok := byAgent[agent]; ok {
				rec.Agents = append(rec.Agents, run)
			}
		}
		if ph.FinalAgent != "" {
			if run, ok := byAgent[ph.FinalAgent]; ok {
				final := run
				rec.Final = &final
			}
		}
		records = append(records, rec)
	}
	return records
}

// CurrentPhase возвращает первую не полностью терминальную фазу.
// ok=false, если все фазы завершены.
func CurrentPhase(records []PhaseRecord) (PhaseRecord, bool) {
	for _, rec := range records {
		if !rec.IsTerminal() {
			return rec, true
		}
	}
	return PhaseRecord{}, false
}
