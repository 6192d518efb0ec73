package presence

const (
	gentleMessage = "Hello, are you still there? I want to make sure you can hear me clearly. " +
		"Please say something if you can hear me."
	secondMessage = "This is my second attempt to reach you. Can you please respond if you can hear me? " +
		"I want to make sure we can continue the interview properly."
	finalMessage = "This is my final attempt to reach you. If you don't respond soon, " +
		"I'll need to end the interview session. Please let me know if you can hear me, " +
		"or you can reconnect if you're having technical issues."

	// FarewellMessage is spoken once the participant is declared lost.
	FarewellMessage = "I'm sorry, but you appear to have disconnected or are unable to continue the interview. " +
		"The interview session will now end due to inactivity. " +
		"If you need to reschedule, please contact the company directly. Thank you."
)

// AttemptMessage escalates from a gentle check-in to a final warning. The last
// attempt always gets the warning regardless of maxAttempts.
func AttemptMessage(attempt, maxAttempts int) string {
	switch {
	case attempt >= maxAttempts:
		return finalMessage
	case attempt <= 1:
		return gentleMessage
	default:
		return secondMessage
	}
}
