package cloud

// Resource tags the scheduler reads and writes.
const (
	TagName                    = "Name"
	TagStartSchedule           = "AutoStartSchedule"
	TagStopSchedule            = "AutoStopSchedule"
	TagImageSchedule           = "AmiSchedule"
	TagImageScheduleWithReboot = "AmiSchedule_ForceToReboot"
	TagAlwaysRunning           = "AlwaysRunning"
	TagImageRetentionDays      = "AmiRetentionDays"

	TagInstanceID = "InstanceId"
	TagExpiresAt  = "ExpiresAt"
	TagImageType  = "ImageType"

	ImageTypeAutomated = "AutomatedSnapshot"
)
