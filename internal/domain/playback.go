package domain

// PlaybackState is the authoritative position of the shared video at a
// point in time. Session-scoped, never persisted; rebuilt from the most
// recent sync exchange.
type PlaybackState struct {
	CurrentTime float64 `json:"currentTime"`
	Paused      bool    `json:"paused"`
}
