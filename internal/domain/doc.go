// Package domain содержит основные сущности системы Consilium.
//
// Сущности:
//   - AnalysisTask — задача анализа одного тикера (конвейер фаз и агентов)
//   - AgentRun — состояние одного агента внутри задачи (одна строка на пару задача×агент)
//   - RebalanceTask — ребалансировка портфеля (fan-out на N задач анализа)
//   - TradeOrder — торговая заявка, созданная шагом построения портфеля
//   - Schedule — расписание автоматических ребалансировок
//
// Статусы — закрытые перечисления (typed strings) с явной таблицей
// допустимых переходов. Вся координация построена на условных записях
// в хранилище ("перевести в X только если сейчас Y"), поэтому переходы
// заданы здесь, а применяются репозиториями.
package domain
