// Package event defines the downstream event grammar a generation task
// emits: Start (Content|Embed|Choose|Thinking)* Stop? Done.
package event

// StopReason distinguishes why a generation stopped.
type StopReason int

const (
	// EndTurn means the model, a formatter, or a stop string ended the turn.
	EndTurn StopReason = iota
	// MaxTokens means the request's token budget was exhausted.
	MaxTokens
)

func (r StopReason) String() string {
	switch r {
	case EndTurn:
		return "end_turn"
	case MaxTokens:
		return "max_tokens"
	default:
		return "unknown"
	}
}

// Counters accompanies a Stop event. Cached, PrefillMillis, and
// DecodeMillis supplement the distilled token-accounting fields.
type Counters struct {
	Prompt        int
	Completion    int
	Cached        int
	PrefillMillis int64
	DecodeMillis  int64
}

// Kind discriminates the payload carried by an Event.
type Kind int

const (
	KindStart Kind = iota
	KindContent
	KindThinking
	KindEmbed
	KindChoose
	KindStop
	KindDone
)

// Event is the single downstream message type. Only the fields relevant
// to Kind are populated.
type Event struct {
	Kind Kind

	// KindContent / KindThinking
	Bytes []byte

	// KindEmbed
	EmbedData  []float32
	EmbedShape []int

	// KindChoose
	PerplexityByChoice []float64

	// KindStop
	Reason   StopReason
	Counters Counters
}

func Start() Event { return Event{Kind: KindStart} }

func Content(b []byte) Event { return Event{Kind: KindContent, Bytes: b} }

func Thinking(b []byte) Event { return Event{Kind: KindThinking, Bytes: b} }

func Embed(data []float32, shape []int) Event {
	return Event{Kind: KindEmbed, EmbedData: data, EmbedShape: shape}
}

func Choose(ppl []float64) Event { return Event{Kind: KindChoose, PerplexityByChoice: ppl} }

func Stop(reason StopReason, counters Counters) Event {
	return Event{Kind: KindStop, Reason: reason, Counters: counters}
}

func Done() Event { return Event{Kind: KindDone} }
