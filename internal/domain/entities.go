package domain

import "time"

// Post представляет сообщение канала.
type Post struct {
	ID           int64
	ChannelID    int64
	ChannelTitle string
	MessageID    int64
	PublishedAt  time.Time
	Text         string
	URL          string
	Sent         bool
}

// Subscriber описывает пользователя, получающего дайджесты.
type Subscriber struct {
	UserID    int64
	Handle    string
	FirstSeen time.Time
}

// UnsentStats содержит сводку по неотправленным постам.
type UnsentStats struct {
	Count int
	// Earliest равен nil, когда неотправленных постов нет.
	Earliest *time.Time
}

// ChannelStat хранит количество неотправленных постов канала.
type ChannelStat struct {
	ChannelID int64
	Title     string
	Count     int
}

// DigestMode определяет режим дайджеста.
type DigestMode string

const (
	// DigestAutomatic — все неотправленные посты, рассылка всем подписчикам, фиксация отправки.
	DigestAutomatic DigestMode = "automatic"
	// DigestManual — посты за окно времени, только запросившему, без фиксации.
	DigestManual DigestMode = "manual"
)

// DeliveryState отражает стадию доставки дайджеста.
type DeliveryState string

const (
	DeliveryComposed      DeliveryState = "composed"
	DeliverySending       DeliveryState = "sending"
	DeliveryCommitted     DeliveryState = "committed"
	DeliveryDelivered     DeliveryState = "delivered"
	DeliveryPartiallySent DeliveryState = "partially_sent"
	DeliveryFailed        DeliveryState = "failed"
)

// Terminal сообщает, что доставка завершена.
func (s DeliveryState) Terminal() bool {
	switch s {
	case DeliveryCommitted, DeliveryDelivered, DeliveryPartiallySent, DeliveryFailed:
		return true
	}
	return false
}
