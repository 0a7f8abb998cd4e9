package pipeline

// State is the pipeline's current position in the voice query cycle. Exactly
// one state is active at a time; transitions are published as events so the
// presentation layer can render progress.
type State string

const (
	// StateIdle means no query is in progress.
	StateIdle State = "idle"

	// StateCapturing means the microphone is recording.
	StateCapturing State = "capturing"

	// StateTranscribing means captured audio is at the speech-to-text service.
	StateTranscribing State = "transcribing"

	// StateReasoning means the transcript is at the language model.
	StateReasoning State = "reasoning"

	// StateSynthesizing means the reply text is at the speech synthesis
	// service.
	StateSynthesizing State = "synthesizing"

	// StatePlaying means the synthesised reply is playing back.
	StatePlaying State = "playing"

	// StateFailed means a stage failed permanently. The pipeline stays here
	// until [Pipeline.Acknowledge] is called.
	StateFailed State = "failed"
)

// EventType discriminates the events published on [Pipeline.Events].
type EventType string

const (
	// EventStateChanged reports a state transition. State carries the new
	// state.
	EventStateChanged EventType = "state-changed"

	// EventTranscriptReady delivers the recognised user text.
	EventTranscriptReady EventType = "transcript-ready"

	// EventResponseReady delivers the assistant's reply text. Emitted before
	// synthesis, so the text is available even when the voice reply fails.
	EventResponseReady EventType = "response-ready"

	// EventAudioReady reports that a voice reply was synthesised.
	// DurationMs carries its length.
	EventAudioReady EventType = "audio-ready"

	// EventPlaybackProgress reports playback position. Advisory only.
	EventPlaybackProgress EventType = "playback-progress"

	// EventError reports a failure. Kind is the machine-readable fault kind,
	// Message the user-presentable description.
	EventError EventType = "error"
)

// Event is one notification to the presentation layer. Only the fields
// relevant to the Type are set.
type Event struct {
	Type EventType `json:"type"`

	// State is the new state for EventStateChanged.
	State State `json:"state,omitempty"`

	// Text is the transcript or reply for EventTranscriptReady and
	// EventResponseReady.
	Text string `json:"text,omitempty"`

	// DurationMs is the clip length for EventAudioReady.
	DurationMs int64 `json:"duration_ms,omitempty"`

	// OffsetMs and TotalMs carry playback position for
	// EventPlaybackProgress.
	OffsetMs int64 `json:"offset_ms,omitempty"`
	TotalMs  int64 `json:"total_ms,omitempty"`

	// Kind and Message describe an EventError.
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}
