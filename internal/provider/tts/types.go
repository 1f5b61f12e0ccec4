package tts

// VoiceProfile identifies which voice a TTS provider should use for
// synthesis.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string
}
