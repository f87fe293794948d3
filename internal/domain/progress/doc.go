// Package progress содержит доменную модель прогрессии ученика:
// запись прогресса (опыт, уровень, серия дней, значки, прогресс видео),
// таблицу наград, вычисление уровней и оценку разблокировки значков.
//
// Пакет не зависит от инфраструктуры: движок (Engine) работает над
// копией записи в памяти, а сохранение и публикация событий выполняются
// прикладным слоем.
package progress
