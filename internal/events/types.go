// Package events provides the engine event types, an in-process pub/sub
// bus feeding the dashboard stream, and the trading event log channel.
package events

import "time"

// EventType represents different event types
type EventType string

const (
	EngineStarted EventType = "ENGINE_STARTED"
	EngineStopped EventType = "ENGINE_STOPPED"
	ErrorOccurred EventType = "ERROR_OCCURRED"

	SecurityStarted EventType = "SECURITY_STARTED"
	ServiceStarted  EventType = "SERVICE_STARTED"
	StrategyAdded   EventType = "STRATEGY_ADDED"
	StrategyRemoved EventType = "STRATEGY_REMOVED"

	OrderSent        EventType = "ORDER_SENT"
	OrderFilled      EventType = "ORDER_FILLED"
	OrderCanceled    EventType = "ORDER_CANCELED"
	OrderRejected    EventType = "ORDER_REJECTED"
	PositionUpdated  EventType = "POSITION_UPDATED"
	PositionRetired  EventType = "POSITION_RETIRED"
	PositionRestored EventType = "POSITION_RESTORED"
	EntrySkipped     EventType = "ENTRY_SKIPPED"

	BrokerReconciled EventType = "BROKER_RECONCILED"
	BackupCompleted  EventType = "BACKUP_COMPLETED"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Module    string                 `json:"module"`
}
