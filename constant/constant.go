package constant

type MediaStatus string

const (
	MediaStatusUploaded   MediaStatus = "UPLOADED"
	MediaStatusProcessing MediaStatus = "PROCESSING"
	MediaStatusCompleted  MediaStatus = "COMPLETED"
	MediaStatusFailed     MediaStatus = "FAILED"
)

func (s MediaStatus) String() string {
	return string(s)
}

// IsTerminal reports whether no further claim can succeed on a record in this status.
func (s MediaStatus) IsTerminal() bool {
	return s == MediaStatusCompleted || s == MediaStatusFailed
}

func ParseMediaStatus(s string) (MediaStatus, bool) {
	switch MediaStatus(s) {
	case MediaStatusUploaded, MediaStatusProcessing, MediaStatusCompleted, MediaStatusFailed:
		return MediaStatus(s), true
	}
	return "", false
}

type MediaKind string

const (
	MediaKindAudio MediaKind = "AUDIO"
	MediaKindVideo MediaKind = "VIDEO"
)

const (
	TopicMediaUploaded    = "media-uploaded"
	TopicMediaTranscribed = "media-transcribed"
	TopicMediaFailed      = "media-failed"
)

type EventBusDriver string

const (
	EventBusKafka    EventBusDriver = "kafka"
	EventBusRabbitMQ EventBusDriver = "rabbitmq"
)

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}
