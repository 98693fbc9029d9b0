package main

import (
	"context"
	"time"

	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
)

// ===========================
// Messages
// ===========================

const (
	MsgLifecycleChannelEmpty = "Guild %s: channel %s has no listeners"
	MsgLifecycleBotMoved     = "Guild %s: bot was moved to channel %s"
	MsgLifecycleBotKicked    = "Guild %s: bot was removed from voice"
)

func init() {
	RegisterVoiceStateUpdateHandler(func(event *events.GuildVoiceStateUpdate) {
		GetPlaybackSystem().handleVoiceStateUpdate(event)
	})
}

// handleVoiceStateUpdate reacts to occupancy changes around the session's
// voice channel. Updates for guilds without a session are ignored; the
// transport separately forwards the bot's own state to the audio node.
func (sys *PlaybackSystem) handleVoiceStateUpdate(event *events.GuildVoiceStateUpdate) {
	guildID := event.VoiceState.GuildID
	s := sys.Get(guildID)
	if s == nil {
		return
	}

	if event.VoiceState.UserID == event.Client().ID() {
		sys.handleOwnVoiceState(s, event)
		return
	}

	s.mu.Lock()
	sessionCh := s.voiceChannelID
	s.mu.Unlock()

	joined := event.VoiceState.ChannelID != nil && *event.VoiceState.ChannelID == sessionCh
	left := event.OldVoiceState.ChannelID != nil && *event.OldVoiceState.ChannelID == sessionCh
	if !joined && !left {
		return
	}
	sys.recheckOccupancy(guildID)
}

// handleOwnVoiceState covers the bot being kicked from voice or dragged to
// another channel by a moderator. A nil channel during an explicit leave is
// the session's own teardown echoing back and is ignored.
func (sys *PlaybackSystem) handleOwnVoiceState(s *PlaybackSession, event *events.GuildVoiceStateUpdate) {
	if event.VoiceState.ChannelID == nil {
		s.mu.Lock()
		if s.state == StateDisconnecting {
			s.mu.Unlock()
			return
		}
		textCh := s.textChannelID
		s.mu.Unlock()

		LogLifecycle(MsgLifecycleBotKicked, s.GuildID)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := sys.Leave(ctx, s.GuildID, "removed from voice"); err != nil {
			LogLifecycle(MsgGenericError, err)
		}
		sys.notifySessionEnded(s.GuildID, textCh, "Disconnected from the voice channel")
		return
	}

	newChannel := *event.VoiceState.ChannelID
	s.mu.Lock()
	moved := s.voiceChannelID != newChannel
	if moved {
		s.voiceChannelID = newChannel
	}
	s.mu.Unlock()

	if moved {
		LogLifecycle(MsgLifecycleBotMoved, s.GuildID, newChannel)
	}
	sys.recheckOccupancy(s.GuildID)
}

// recheckOccupancy arms or cancels the empty-channel disconnect based on
// who is in the session's voice channel right now. Timers armed because
// nothing is playing are left alone; listeners coming back does not make a
// silent bot any less idle.
func (sys *PlaybackSystem) recheckOccupancy(guildID snowflake.ID) {
	s := sys.Get(guildID)
	if s == nil {
		return
	}

	s.mu.Lock()
	channelID := s.voiceChannelID
	hasTimer := s.idleTimer != nil
	timerWhy := s.idleWhy
	s.mu.Unlock()
	if channelID == 0 {
		return
	}

	if sys.countListeners(guildID, channelID) == 0 {
		if !hasTimer {
			LogLifecycle(MsgLifecycleChannelEmpty, guildID, channelID)
			s.armIdle(sys, idleEmptyChannel)
		}
		return
	}
	if hasTimer && timerWhy == idleEmptyChannel {
		s.cancelIdle("channel occupied")
	}
}

// countListeners goes through the occupancy seam when one is set.
func (sys *PlaybackSystem) countListeners(guildID, channelID snowflake.ID) int {
	sys.mu.RLock()
	fn := sys.occupancyFn
	sys.mu.RUnlock()
	if fn != nil {
		return fn(guildID, channelID)
	}
	return sys.humansInChannel(guildID, channelID)
}

// humansInChannel counts non-bot members connected to a voice channel.
func (sys *PlaybackSystem) humansInChannel(guildID, channelID snowflake.ID) int {
	sys.mu.RLock()
	client := sys.client
	sys.mu.RUnlock()
	if client == nil {
		return 0
	}

	humanCount := 0
	for state := range client.Caches.VoiceStates(guildID) {
		if state.ChannelID != nil && *state.ChannelID == channelID && state.UserID != client.ID() {
			if m, ok := client.Caches.Member(guildID, state.UserID); !ok || !m.User.Bot {
				humanCount++
			}
		}
	}
	return humanCount
}
