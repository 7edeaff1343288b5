// Package pipeline реализует ядро оркестрации задачи анализа:
// защиту от повторного выполнения, ретраи попыток и передачу хода
// между агентами фазы.
//
// Три компонента:
//
//   - Guard — решает судьбу входящего вызова агента по его текущей
//     записи в хранилище: завершённый агент отвечает сохранённым
//     результатом без повторной работы, выполняющийся и случайно
//     повторённый после ошибки — блокируются.
//
//   - Supervisor — оборачивает одну попытку агента дедлайном,
//     классифицирует ошибку и сам переназначает следующую попытку,
//     пока не исчерпан лимит ретраев.
//
//   - Sequencer — после завершения агента выбирает случайного
//     незавершённого пира той же фазы и отправляет ему запрос на
//     вызов; финальный агент фазы допускается только когда все
//     обычные агенты терминальны.
//
// Ядро не владеет межфазными переходами: о полностью завершённой
// фазе сообщается координатору, который выводит следующее действие
// из хранилища (пакет coordinator).
//
// Все решения принимаются по состоянию в хранилище, а не по
// содержимому сообщений: доставка at-least-once, сообщения могут
// дублироваться и теряться.
package pipeline
