package reason

import (
	"fmt"

	"github.com/spf13/viper"
)

var defaultReasons = []Reason{
	{Code: "PATIENT_NPO", Label: "Patient nil by mouth", Type: TypeException},
	{Code: "PATIENT_REFUSED", Label: "Patient refused", Type: TypeException},
	{Code: "PATIENT_ABSENT", Label: "Patient off ward", Type: TypeException},
	{Code: "VITALS_OUT_OF_RANGE", Label: "Held for vital signs", Type: TypeException},
	{Code: "PHYSICIAN_HOLD", Label: "Held on physician instruction", Type: TypeException},
	{Code: "DRUG_UNAVAILABLE", Label: "Drug not available on ward", Type: TypeException},
	{Code: "VOMITED", Label: "Patient vomited", Type: TypeException},

	{Code: "DOSE_NOT_GIVEN", Label: "Prepared dose not administered", Type: TypeReturn},
	{Code: "ORDER_STOPPED", Label: "Order stopped after preparation", Type: TypeReturn},
	{Code: "PATIENT_DISCHARGED", Label: "Patient discharged", Type: TypeReturn},

	{Code: "COUNT_CORRECTION", Label: "Physical count correction", Type: TypeAdjustment},
	{Code: "EXPIRED", Label: "Expired stock removed", Type: TypeAdjustment},
	{Code: "TRANSFER_OUT", Label: "Transferred to another ward", Type: TypeAdjustment},

	{Code: "SHORT_DELIVERY", Label: "Fewer units received than sent", Type: TypeDiscrepancy},
	{Code: "OVER_DELIVERY", Label: "More units received than sent", Type: TypeDiscrepancy},
	{Code: "DAMAGED_IN_TRANSIT", Label: "Damaged in transit", Type: TypeDiscrepancy},
	{Code: "WRONG_LOT", Label: "Lot differs from note", Type: TypeDiscrepancy},

	{Code: "LATE_DOCUMENTATION", Label: "Late documentation", Type: TypeReopen},
	{Code: "CHARTING_ERROR", Label: "Charting error correction", Type: TypeReopen},

	{Code: "ALLERGY", Label: "Allergy alert", Type: TypeAlert},
	{Code: "INTERACTION", Label: "Drug interaction alert", Type: TypeAlert},
	{Code: "DUPLICATE_THERAPY", Label: "Duplicate therapy alert", Type: TypeAlert},
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(defaultReasons)
	if err != nil {
		panic(err)
	}
	return c
}

// LoadCatalog reads a YAML or JSON file with a top-level "reasons" list.
// An empty path yields the default catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read reason catalog %s: %w", path, err)
	}

	var reasons []Reason
	if err := v.UnmarshalKey("reasons", &reasons); err != nil {
		return nil, fmt.Errorf("decode reason catalog %s: %w", path, err)
	}
	if len(reasons) == 0 {
		return nil, fmt.Errorf("reason catalog %s has no reasons", path)
	}
	return NewCatalog(reasons)
}
