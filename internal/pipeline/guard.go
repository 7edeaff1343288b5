package pipeline

import (
	"log/slog"

	"github.com/mkovri/Consilium/internal/domain"
)

// Decision — вердикт Guard по входящему вызову агента.
type Decision int

const (
	// DecisionProceed — вызов легитимен, агент можно запускать.
	DecisionProceed Decision = iota

	// DecisionShortCircuit — агент уже завершён; вызывающий получает
	// сохранённый результат без повторной работы.
	DecisionShortCircuit

	// DecisionBlock — вызов отвергнут (агент выполняется, упал без
	// намеренного retry или пропущен).
	DecisionBlock
)

// String возвращает имя вердикта для логов.
func (d Decision) String() string {
	switch d {
	case DecisionProceed:
		return "proceed"
	case DecisionShortCircuit:
		return "short_circuit"
	case DecisionBlock:
		return "block"
	default:
		return "unknown"
	}
}

// CheckResult — результат проверки вызова.
type CheckResult struct {
	// Decision — вердикт.
	Decision Decision

	// Output — сохранённый результат агента при DecisionShortCircuit.
	Output string

	// Reason — причина блокировки при DecisionBlock.
	Reason error
}

// Guard проверяет легитимность входящего вызова агента по его записи
// в хранилище. Делает повторное выполнение идемпотентным: сколько бы
// раз ни пришёл запрос на завершённого агента, работа выполняется
// один раз, а вызывающий всегда получает один и тот же результат.
//
// Guard разрешает только логические повторы. Гонку двух честных
// первых вызовов (оба видят PENDING) разрешает условная запись
// хранилища: проигравший переход отбрасывается с repo.ErrStale.
type Guard struct {
	logger *slog.Logger
}

// NewGuard создаёт Guard.
func NewGuard(logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{logger: logger}
}

// Check решает судьбу вызова агента.
//
// Правила по статусу записи:
//   - COMPLETED — short-circuit с сохранённым Output;
//   - RUNNING — блокировка (попытка уже идёт);
//   - ERROR — блокировка, если retry не намеренный; иначе — запуск;
//   - SKIPPED — блокировка;
//   - PENDING — запуск.
func (g *Guard) Check(run *domain.AgentRun, intentional bool) CheckResult {
	var result CheckResult

	switch run.Status {
	case domain.AgentStatusCompleted:
		result = CheckResult{Decision: DecisionShortCircuit, Output: run.Output}

	case domain.AgentStatusRunning:
		result = CheckResult{Decision: DecisionBlock, Reason: ErrAgentRunning}

	case domain.AgentStatusError:
		if intentional {
			result = CheckResult{Decision: DecisionProceed}
		} else {
			result = CheckResult{Decision: DecisionBlock, Reason: ErrAgentFailed}
		}

	case domain.AgentStatusSkipped:
		result = CheckResult{Decision: DecisionBlock, Reason: ErrAgentSkipped}

	default:
		result = CheckResult{Decision: DecisionProceed}
	}

	if result.Decision != DecisionProceed {
		g.logger.Debug("guard decision",
			"task_id", run.TaskID,
			"agent", run.Agent,
			"status", run.Status,
			"intentional", intentional,
			"decision", result.Decision.String(),
		)
	}

	return result
}
