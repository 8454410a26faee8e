package domain

// TelegramUploadCeiling is the Telegram Bot API attachment size limit for
// uploads. Files at or above this size cannot be sent directly and must go
// through the archive-and-upload path.
const TelegramUploadCeiling int64 = 50 * 1024 * 1024

// DeliveryPath is the chosen mechanism for returning results.
type DeliveryPath string

const (
	DeliverDirect  DeliveryPath = "direct"
	DeliverArchive DeliveryPath = "archive"
)

// ChooseDelivery maps an artifact set to a delivery path: a single artifact
// below the ceiling goes out directly, everything else is archived and
// uploaded. Pure; no filesystem or network access.
func ChooseDelivery(artifacts []Artifact, ceiling int64) DeliveryPath {
	if len(artifacts) == 1 && artifacts[0].Size < ceiling {
		return DeliverDirect
	}
	return DeliverArchive
}
