// Package broker — клиент брокерского API.
//
// Через брокера система получает снимок портфеля (используется
// трейдером и построением портфеля) и отправляет одобренные торговые
// заявки. Протокол — простой JSON поверх HTTP; адрес берётся из
// BROKER_URL.
//
// Клиент скрыт за интерфейсом Client: в тестах и песочнице вместо
// HTTP-реализации подставляется заглушка.
package broker
