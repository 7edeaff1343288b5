// Package agent выполняет агентов конвейера анализа.
//
// # Обзор
//
// Agent worker — stateless компонент системы Consilium, который
// выполняет отдельных агентов задачи анализа. Worker отвечает за:
//
//   - Получение запросов на вызов из очереди agents.invoke
//   - Проверку легитимности вызова (Completion Guard) и захват
//     записи агента условной записью в хранилище
//   - Выполнение попытки под супервизором (дедлайн, ретраи)
//   - Запись insight и передачу хода следующему агенту фазы
//
// Workers масштабируются горизонтально — несколько экземпляров
// потребляют из одной очереди. Доставка at-least-once: дубли
// запросов безопасны, работа каждого агента выполняется один раз.
//
// # Обработка запроса
//
//  1. Загрузка задачи и записи агента из БД
//  2. Кооперативная отмена: CancelRequested → финализация задачи
//  3. Guard: завершённый агент отвечает сохранённым insight,
//     выполняющийся и случайно повторённый после ошибки — отбой
//  4. Захват записи (PENDING → RUNNING, для намеренного retry
//     ERROR → RUNNING); проигравший гонку захват — отбой
//  5. Выполнение попытки под Supervisor (пакет pipeline)
//  6. Успех → запись insight, передача хода (Sequencer)
//  7. Исчерпанные ретраи и сбои отправки → событие координатору
//
// # Исполнители
//
// Каждый агент — Executor, строящий промпт из тикера, параметров
// задачи и insights ранее завершённых агентов. Текст генерирует
// внешний LLM-сервис (Generator, адрес в LLM_URL); трейдер
// дополнительно получает снимок портфеля от брокера.
package agent
