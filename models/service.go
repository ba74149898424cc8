package models

// Sentinel values used when a CUR row does not identify its service.
const (
	UnknownServiceName = "Unknown Service"
	DefaultRegion      = "us-east-1"
	GlobalRegion       = "global"
)

// Service is an AWS service/region pairing, unique per (name, region).
// Created lazily the first time a CUR row references the pair.
type Service struct {
	BaseModel
	Name        string `gorm:"size:255;uniqueIndex:idx_service_name_region,priority:1" json:"name"`
	Region      string `gorm:"size:50;default:us-east-1;uniqueIndex:idx_service_name_region,priority:2" json:"region"`
	Description string `gorm:"type:text" json:"description"`
}

// ServiceKey is the composite lookup key for the (name, region) pair.
func ServiceKey(name, region string) string {
	return name + "|" + region
}
