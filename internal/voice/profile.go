package voice

import "persona-chat/backend/internal/emotion"

// Profile is the voice used to speak one reply.
type Profile struct {
	VoiceID string  `json:"voiceId"`
	Speed   float64 `json:"speed"`
	Pitch   float64 `json:"pitch"`
}

var profiles = map[emotion.Label]Profile{
	emotion.Happy:      {VoiceID: "alloy", Speed: 1.2, Pitch: 1.1},
	emotion.Excited:    {VoiceID: "nova", Speed: 1.3, Pitch: 1.2},
	emotion.Calm:       {VoiceID: "echo", Speed: 0.8, Pitch: 0.9},
	emotion.Sad:        {VoiceID: "fable", Speed: 0.7, Pitch: 0.8},
	emotion.Angry:      {VoiceID: "onyx", Speed: 1.1, Pitch: 0.9},
	emotion.Surprised:  {VoiceID: "shimmer", Speed: 1.2, Pitch: 1.1},
	emotion.Thoughtful: {VoiceID: "echo", Speed: 0.9, Pitch: 0.95},
}

// ProfileFor resolves the voice for label. Unknown or missing labels get the
// default voice at neutral speed and pitch.
func ProfileFor(label emotion.Label, defaultVoice string) Profile {
	if p, ok := profiles[label]; ok {
		return p
	}
	return Profile{VoiceID: defaultVoice, Speed: 1.0, Pitch: 1.0}
}
