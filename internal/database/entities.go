package database

import (
	"time"

	"github.com/kpioracles/oracle-answerer/internal/specification"
)

// ActiveOracle is an oracle that passed validation and is waiting to be
// answered. Rows are never updated: they are created on acknowledgement and
// deleted once the oracle is finalized.
type ActiveOracle struct {
	ChainID              uint64                      `gorm:"primaryKey;autoIncrement:false" json:"chainId"`
	Address              string                      `gorm:"primaryKey;type:varchar(42)" json:"address"`
	Specification        specification.Specification `gorm:"serializer:json;type:jsonb;not null" json:"specification"`
	MeasurementTimestamp time.Time                   `gorm:"index;not null" json:"measurementTimestamp"`
	CreatedAt            time.Time                   `json:"createdAt"`
}

// Checkpoint is the last block durably processed on a chain.
type Checkpoint struct {
	ChainID     uint64 `gorm:"primaryKey;autoIncrement:false"`
	BlockNumber uint64
}
