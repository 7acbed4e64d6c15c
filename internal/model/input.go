package model

import (
	"strings"
	"time"
)

// Frame is one captured observation: on-screen text, screenshot URIs or a
// voice transcript fragment, stamped with when it was captured.
type Frame struct {
	Timestamp  time.Time `json:"timestamp"`
	Text       string    `json:"text,omitempty"`
	ImageURIs  []string  `json:"image_uris,omitempty"`
	Transcript string    `json:"transcript,omitempty"`
}

// Empty reports whether the frame carries nothing to remember.
func (f Frame) Empty() bool {
	return strings.TrimSpace(f.Text) == "" && strings.TrimSpace(f.Transcript) == "" && len(f.ImageURIs) == 0
}

// Bundle is the batch of frames consolidated in one absorption cycle.
type Bundle struct {
	ID     string  `json:"id"`
	Frames []Frame `json:"frames"`
}

// Empty reports whether no frame in the bundle carries content.
func (b Bundle) Empty() bool {
	for _, f := range b.Frames {
		if !f.Empty() {
			return false
		}
	}
	return true
}

// Turn is one message of the recent conversation.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}
