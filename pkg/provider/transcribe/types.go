package transcribe

// Event is a single speech-to-text result. Interim and final results use the
// same type, distinguished by IsFinal.
type Event struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this result is authoritative. Interim
	// results (IsFinal=false) replace the live preview and are never stored;
	// final results append to the context window.
	IsFinal bool

	// IsSpeechFinal is set when the provider detected the end of a spoken
	// utterance (endpointing), as opposed to a mid-utterance finalisation.
	IsSpeechFinal bool
}
