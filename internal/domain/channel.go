package domain

type (
	ChannelID  string
	InstanceID string
	CategoryID string
)

type ChannelType string

const (
	ChannelText  ChannelType = "text"
	ChannelVoice ChannelType = "voice"
)

// Channel is the metadata view the signaling layer needs; full channel
// CRUD lives behind the channel store.
type Channel struct {
	ID       ChannelID   `json:"id"`
	Type     ChannelType `json:"type"`
	Category CategoryID  `json:"category"`
}
