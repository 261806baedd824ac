package chat

import (
	"context"
	"log/slog"
	"time"

	"conference-lab/domain"
	"conference-lab/mediator"
	"conference-lab/timers"
)

// typingSubject keys one typing indicator: a participant in a channel.
type typingSubject struct {
	Participant domain.Participant
	Channel     string
}

// TypingTimer expires typing indicators through the deadline multiplexer:
// one live wait however many participants are typing. Firing dispatches a
// typing=false request back through the bus so expiry takes the same path
// as an explicit stop.
type TypingTimer struct {
	bus *mediator.Mediator
	mux *timers.Multiplexer[typingSubject]
	log *slog.Logger
}

func NewTypingTimer(bus *mediator.Mediator, delay timers.Delay, log *slog.Logger) *TypingTimer {
	t := &TypingTimer{bus: bus, log: log}
	t.mux = timers.NewMultiplexer(delay, t.fire)
	return t
}

// RemoveTypingAfter schedules the participant's indicator in channel to
// expire after timeout, replacing any earlier schedule.
func (t *TypingTimer) RemoveTypingAfter(p domain.Participant, channel string, timeout time.Duration) {
	t.mux.Arm(typingSubject{Participant: p, Channel: channel}, time.Now().Add(timeout))
}

func (t *TypingTimer) CancelTimer(p domain.Participant, channel string) {
	t.mux.Cancel(typingSubject{Participant: p, Channel: channel})
}

// CancelAllOfParticipant cancels every pending timer of the participant
// and returns the affected channels.
func (t *TypingTimer) CancelAllOfParticipant(p domain.Participant) []string {
	removed := t.mux.CancelAllFunc(func(s typingSubject) bool {
		return s.Participant == p
	})
	channels := make([]string, 0, len(removed))
	for _, s := range removed {
		channels = append(channels, s.Channel)
	}
	return channels
}

func (t *TypingTimer) CancelAllOfConference(conferenceID string) {
	t.mux.CancelAllFunc(func(s typingSubject) bool {
		return s.Participant.ConferenceID == conferenceID
	})
}

func (t *TypingTimer) Stop() {
	t.mux.Stop()
}

func (t *TypingTimer) fire(s typingSubject) {
	_, err := mediator.Send[mediator.Unit](context.Background(), t.bus, SetParticipantTypingRequest{
		Participant: s.Participant,
		Channel:     s.Channel,
		IsTyping:    false,
	})
	if err != nil {
		t.log.Error("clearing expired typing indicator failed",
			"participantId", s.Participant.ID, "channel", s.Channel, "err", err)
	}
}
