package amqp

import (
	"encoding/json"
	"time"
)

// TransactionSyncMessage asks the worker to copy one transaction to the
// backup book. It carries IDs only; the worker reads the row itself.
type TransactionSyncMessage struct {
	CustomerID    string    `json:"customer_id"`
	TransactionID string    `json:"transaction_id"`
	Timestamp     time.Time `json:"timestamp"`
}

func NewTransactionSyncMessage(customerID, transactionID string) *TransactionSyncMessage {
	return &TransactionSyncMessage{
		CustomerID:    customerID,
		TransactionID: transactionID,
		Timestamp:     time.Now(),
	}
}

func (m *TransactionSyncMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func TransactionSyncMessageFromJSON(data []byte) (*TransactionSyncMessage, error) {
	var msg TransactionSyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// OverdueNoticeMessage asks the worker to send an overdue reminder for one
// customer.
type OverdueNoticeMessage struct {
	CustomerID  string    `json:"customer_id"`
	DaysOverdue int       `json:"days_overdue"`
	Timestamp   time.Time `json:"timestamp"`
}

func NewOverdueNoticeMessage(customerID string, daysOverdue int) *OverdueNoticeMessage {
	return &OverdueNoticeMessage{
		CustomerID:  customerID,
		DaysOverdue: daysOverdue,
		Timestamp:   time.Now(),
	}
}

func (m *OverdueNoticeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func OverdueNoticeMessageFromJSON(data []byte) (*OverdueNoticeMessage, error) {
	var msg OverdueNoticeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
