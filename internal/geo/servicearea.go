package geo

import "github.com/turbodriver/dispatch-core/internal/config"

// ServiceArea validates pickup/destination points against the primary and
// extended bounding boxes configured for the deployment. A point inside the
// extended box but outside the primary one is accepted but flagged, so the
// matcher can restrict the offer to drivers who opted into extended-area
// work.
type ServiceArea struct {
	Primary  config.BoundingBox
	Extended config.BoundingBox
}

// NewServiceArea builds a ServiceArea from the process configuration.
func NewServiceArea(cfg config.Config) ServiceArea {
	return ServiceArea{Primary: cfg.ServiceAreaPrimary, Extended: cfg.ServiceAreaExtended}
}

// Validate reports whether lat/lon falls within the primary or the extended
// box (inArea), and whether it lies outside the primary box but inside the
// extended one (extended).
func (s ServiceArea) Validate(lat, lon float64) (inArea, extended bool) {
	if s.Primary.Contains(lat, lon) {
		return true, false
	}
	if s.Extended.Contains(lat, lon) {
		return true, true
	}
	return false, false
}
