package enums

import "fmt"

// IntakeStatus tracks what became of an inbound external event.
type IntakeStatus string

const (
	IntakeStatusPending   IntakeStatus = "pending"
	IntakeStatusProcessed IntakeStatus = "processed"
	IntakeStatusSkipped   IntakeStatus = "skipped"
	IntakeStatusFailed    IntakeStatus = "failed"
)

var validIntakeStatuses = []IntakeStatus{
	IntakeStatusPending,
	IntakeStatusProcessed,
	IntakeStatusSkipped,
	IntakeStatusFailed,
}

// String implements fmt.Stringer.
func (i IntakeStatus) String() string {
	return string(i)
}

// IsValid reports whether the value is a known IntakeStatus.
func (i IntakeStatus) IsValid() bool {
	for _, candidate := range validIntakeStatuses {
		if candidate == i {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the intake record will never be reprocessed.
func (i IntakeStatus) IsTerminal() bool {
	return i == IntakeStatusProcessed || i == IntakeStatusSkipped || i == IntakeStatusFailed
}

// WeightReportSource identifies what produced a weight report.
type WeightReportSource string

const (
	WeightReportSourceCourierApp  WeightReportSource = "courier_app"
	WeightReportSourceScaleDevice WeightReportSource = "scale_device"
)

var validWeightReportSources = []WeightReportSource{
	WeightReportSourceCourierApp,
	WeightReportSourceScaleDevice,
}

// String implements fmt.Stringer.
func (w WeightReportSource) String() string {
	return string(w)
}

// IsValid reports whether the value is a known WeightReportSource.
func (w WeightReportSource) IsValid() bool {
	for _, candidate := range validWeightReportSources {
		if candidate == w {
			return true
		}
	}
	return false
}

// ParseWeightReportSource converts raw input into a WeightReportSource.
func ParseWeightReportSource(value string) (WeightReportSource, error) {
	for _, candidate := range validWeightReportSources {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid weight report source %q", value)
}
