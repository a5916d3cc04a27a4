package models

import (
	"bytes"
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// OrderSnapshotModel stores the nested order document that field mappings read from.
// Rows are written by the order side of the system; delivery only reads them.
type OrderSnapshotModel struct {
	OrderID   string         `gorm:"type:varchar(100);primary_key"`
	Document  datatypes.JSON `gorm:"type:json;not null"`
	UpdatedAt time.Time      `gorm:"not null"`
}

// TableName returns the table name for GORM
func (OrderSnapshotModel) TableName() string {
	return "order_snapshots"
}

// ToDocument decodes the snapshot, keeping numbers as json.Number
func (m *OrderSnapshotModel) ToDocument() (map[string]any, error) {
	doc := make(map[string]any)
	if len(m.Document) == 0 {
		return doc, nil
	}
	dec := json.NewDecoder(bytes.NewReader(m.Document))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}
