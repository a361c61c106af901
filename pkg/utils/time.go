package utils

import (
	"fmt"
	"time"
)

// time.go - утилиты для работы со временем
//
// Дневной PnL и дневной стоп считаются в границах UTC-суток:
// риск-менеджер сбрасывает накопленный результат при смене дня.

// GetDayStartFrom возвращает начало дня для указанного времени в UTC
//
// Пример:
//
//	GetDayStartFrom(2024-01-15 14:30:45 UTC) = 2024-01-15 00:00:00 UTC
func GetDayStartFrom(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// SameDay проверяет, что два момента лежат в одних UTC-сутках
func SameDay(a, b time.Time) bool {
	return GetDayStartFrom(a).Equal(GetDayStartFrom(b))
}

// FormatDuration форматирует продолжительность в человекочитаемый вид
//
// Примеры:
//   - 45s -> "45s"
//   - 5m30s -> "5m 30s"
//   - 2h15m -> "2h 15m"
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// FromUnixMillis конвертирует миллисекунды Unix в time.Time
func FromUnixMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
