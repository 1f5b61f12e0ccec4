package stt

// Result is a speech-to-text transcription of one completed utterance.
type Result struct {
	// Text is the transcribed speech content.
	Text string

	// Language is the detected or configured BCP-47 language tag. May be
	// empty if the provider does not report it.
	Language string

	// Confidence is the overall confidence score (0.0-1.0). May be zero if
	// the provider does not report confidence.
	Confidence float64
}
