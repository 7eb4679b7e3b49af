package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MappingSession is the single mutable document behind one editing session.
// Column mappings, defaults, formula rules and row data live as JSON
// documents; Version increments on every structural commit and is the sole
// freshness oracle clients trust.
type MappingSession struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Version       int            `gorm:"column:version;not null;default:1" json:"version"`
	SourceLabels  datatypes.JSON `gorm:"column:source_labels" json:"source_labels"`
	FixedLabels   datatypes.JSON `gorm:"column:fixed_labels" json:"fixed_labels"`
	TagCount      int            `gorm:"column:tag_count;not null;default:0" json:"tag_count"`
	SpecPairCount int            `gorm:"column:spec_pair_count;not null;default:0" json:"spec_pair_count"`
	IDPairCount   int            `gorm:"column:id_pair_count;not null;default:0" json:"id_pair_count"`
	Mappings      datatypes.JSON `gorm:"column:mappings" json:"mappings"`
	DefaultValues datatypes.JSON `gorm:"column:default_values" json:"default_values"`
	FormulaRules  datatypes.JSON `gorm:"column:formula_rules" json:"formula_rules"`
	RuleColumns   datatypes.JSON `gorm:"column:rule_columns" json:"rule_columns"`
	Rows          datatypes.JSON `gorm:"column:rows" json:"-"`
	RowCount      int            `gorm:"column:row_count;not null;default:0" json:"row_count"`
	CreatedAt     time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (MappingSession) TableName() string { return "mapping_session" }
