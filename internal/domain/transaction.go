package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

// StatusPending is the only status the analyzer assigns; settlement
// happens downstream.
const StatusPending TransactionStatus = "PENDING"

type Transaction struct {
	ID                string            `json:"id"`
	Amount            decimal.Decimal   `json:"amount"`
	Currency          string            `json:"currency,omitempty"`
	SenderAccountID   string            `json:"sender_account_id"`
	ReceiverAccountID string            `json:"receiver_account_id,omitempty"`
	CustomerID        string            `json:"customer_id,omitempty"`
	Channel           string            `json:"channel,omitempty"`
	DeviceID          string            `json:"device_id,omitempty"`
	IPAddress         string            `json:"ip_address,omitempty"`
	GeoLocation       string            `json:"geo_location,omitempty"`
	AuthAttempts      int               `json:"auth_attempts"`
	Timestamp         time.Time         `json:"timestamp"`
	Suspicious        bool              `json:"suspicious"`
	RiskReason        string            `json:"risk_reason"`
	Rule              string            `json:"rule,omitempty"`
	Status            TransactionStatus `json:"status"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at,omitempty"`
}

// NewTransaction builds a pending, not yet evaluated transaction.
func NewTransaction(amount decimal.Decimal, senderID, receiverID string, ts time.Time) *Transaction {
	return &Transaction{
		Amount:            amount,
		SenderAccountID:   senderID,
		ReceiverAccountID: receiverID,
		Timestamp:         ts,
		Status:            StatusPending,
		CreatedAt:         time.Now(),
	}
}

func (tx *Transaction) WithCurrency(currency string) *Transaction {
	tx.Currency = currency
	return tx
}

func (tx *Transaction) WithChannel(channel string) *Transaction {
	tx.Channel = channel
	return tx
}

func (tx *Transaction) WithDevice(deviceID string) *Transaction {
	tx.DeviceID = deviceID
	return tx
}

func (tx *Transaction) WithNetwork(ipAddress, geoLocation string) *Transaction {
	tx.IPAddress = ipAddress
	tx.GeoLocation = geoLocation
	return tx
}

func (tx *Transaction) WithAuthAttempts(n int) *Transaction {
	tx.AuthAttempts = n
	return tx
}

// HasReceiver reports whether a receiver account was supplied.
func (tx *Transaction) HasReceiver() bool {
	return tx.ReceiverAccountID != ""
}

// ApplyVerdict writes the engine's outcome onto the transaction.
func (tx *Transaction) ApplyVerdict(v Verdict) {
	tx.Suspicious = v.Suspicious
	tx.RiskReason = v.Reason
	tx.Rule = v.Rule
}

// Clone returns a copy that shares no mutable state with tx.
func (tx *Transaction) Clone() *Transaction {
	c := *tx
	return &c
}
