package websocket

import (
	"time"

	"scalper/internal/models"
)

// MessageType - тип сообщения потока
type MessageType string

const (
	MessageTypeSummary      MessageType = "summary"
	MessageTypeNotification MessageType = "notification"
	MessageTypePairs        MessageType = "pairs"
)

// SummaryMessage - периодическая сводка движка
type SummaryMessage struct {
	Type MessageType    `json:"type"`
	Data models.Summary `json:"data"`
}

// NotificationMessage - операторское уведомление
type NotificationMessage struct {
	Type      MessageType `json:"type"`
	Message   string      `json:"message"`
	Timestamp time.Time   `json:"timestamp"`
}

// PairsMessage - состояние пар (отправляется при изменении enabled/disabled)
type PairsMessage struct {
	Type MessageType          `json:"type"`
	Data []models.PairSummary `json:"data"`
}

// NewSummaryMessage создаёт сообщение сводки
func NewSummaryMessage(s models.Summary) *SummaryMessage {
	return &SummaryMessage{Type: MessageTypeSummary, Data: s}
}

// NewNotificationMessage создаёт сообщение уведомления
func NewNotificationMessage(msg string) *NotificationMessage {
	return &NotificationMessage{
		Type:      MessageTypeNotification,
		Message:   msg,
		Timestamp: time.Now(),
	}
}

// NewPairsMessage создаёт сообщение со списком пар
func NewPairsMessage(pairs []models.PairSummary) *PairsMessage {
	return &PairsMessage{Type: MessageTypePairs, Data: pairs}
}
