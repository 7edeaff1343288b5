// Package coordinator реализует межфазную и межзадачную оркестрацию.
//
// Координатор — единственный компонент, который видит конвейер целиком:
//
//   - Fan-out: по событию о новой ребалансировке создаёт задачу анализа
//     на каждый тикер и запускает min(MaxParallel, N) из них.
//   - Fan-in: на каждое терминальное завершение задачи пересчитывает
//     счётчики напрямую из хранилища, пополняет очередь выполняющихся
//     задач и принимает решение по кворуму.
//   - Межфазные переходы: после полного завершения фазы запускает
//     первого агента следующей фазы; после последней фазы строит
//     торговые заявки.
//   - Сверка (reconciliation): периодически находит задачи, потерявшие
//     событие передачи хода, агентов, зависших в RUNNING после падения
//     воркера, и незавершённые ребалансировки — и доводит их до
//     корректного состояния.
//
// События из RabbitMQ — только подсказки для снижения задержки.
// Каждый обработчик заново выводит правильное следующее действие из
// хранилища, поэтому потерянное или продублированное событие стоит
// максимум задержки до следующей сверки, но никогда не ломает
// состояние.
package coordinator
