package handlers

import (
	"context"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"

	"github.com/sonroyaalmerol/melodeck/internal/music"
	"github.com/sonroyaalmerol/melodeck/internal/repository"
)

type fakeController struct {
	mu sync.Mutex

	connected bool
	playing   bool
	paused    bool
	current   *music.TrackInfo
	queue     []music.TrackInfo

	enqueueErr error
	actionErr  error
	calls      []string
	lastRef    music.ChannelRef
	lastBy     string
	// onAction runs at the start of Skip, Pause, Resume and Leave.
	onAction func()
}

func (f *fakeController) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeController) Enqueue(_ context.Context, _ string, ch music.ChannelRef, q, by string) (music.TrackInfo, error) {
	f.record("enqueue:" + q)
	f.lastRef, f.lastBy = ch, by
	if f.enqueueErr != nil {
		return music.TrackInfo{}, f.enqueueErr
	}
	return music.TrackInfo{Title: q + " title", RequestedBy: by}, nil
}

func (f *fakeController) action(call string) error {
	if f.onAction != nil {
		f.onAction()
	}
	f.record(call)
	return f.actionErr
}

func (f *fakeController) Skip(context.Context, string) error   { return f.action("skip") }
func (f *fakeController) Pause(context.Context, string) error  { return f.action("pause") }
func (f *fakeController) Resume(context.Context, string) error { return f.action("resume") }
func (f *fakeController) Leave(context.Context, string) error  { return f.action("leave") }

func (f *fakeController) IsConnected(string) bool { return f.connected }
func (f *fakeController) HasTracks(string) bool   { return f.current != nil || len(f.queue) > 0 }
func (f *fakeController) IsPlaying(string) bool   { return f.playing }
func (f *fakeController) IsPaused(string) bool    { return f.paused }

func (f *fakeController) NowPlaying(string) (music.TrackInfo, bool) {
	if f.current == nil {
		return music.TrackInfo{}, false
	}
	return *f.current, true
}

func (f *fakeController) Queue(string) []music.TrackInfo { return f.queue }

type fakeSettings struct {
	mu   sync.Mutex
	sets map[string]repository.Settings
	err  error
}

func newFakeSettings() *fakeSettings {
	return &fakeSettings{sets: make(map[string]repository.Settings)}
}

func (f *fakeSettings) GetSettings(_ context.Context, guild string) (*repository.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.sets[guild]
	if !ok {
		s = repository.Settings{GuildID: guild, AnnounceTracks: true}
	}
	return &s, nil
}

func (f *fakeSettings) SetQueueLimit(_ context.Context, guild string, limit *int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	s, ok := f.sets[guild]
	if !ok {
		s = repository.Settings{GuildID: guild, AnnounceTracks: true}
	}
	s.QueueLimit = limit
	f.sets[guild] = s
	return nil
}

func (f *fakeSettings) SetAnnounceTracks(_ context.Context, guild string, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	s, ok := f.sets[guild]
	if !ok {
		s = repository.Settings{GuildID: guild}
	}
	s.AnnounceTracks = on
	f.sets[guild] = s
	return nil
}

type sentMessage struct {
	ChannelID string
	Data      *discordgo.MessageSend
}

type fakeMessenger struct {
	mu      sync.Mutex
	next    int
	sent    []sentMessage
	deleted []string
	failAll bool
}

func (f *fakeMessenger) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, errors.New("send failed")
	}
	f.next++
	f.sent = append(f.sent, sentMessage{ChannelID: channelID, Data: data})
	return &discordgo.Message{ID: "m" + string(rune('0'+f.next)), ChannelID: channelID}, nil
}

func (f *fakeMessenger) ChannelMessageDelete(_ string, messageID string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeMessenger) snapshot() ([]sentMessage, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...), append([]string(nil), f.deleted...)
}

type fakeResponder struct {
	mu    sync.Mutex
	calls []string
	edits []*discordgo.WebhookEdit
	posts []*discordgo.WebhookParams
}

func (f *fakeResponder) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeResponder) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	switch resp.Type {
	case discordgo.InteractionResponseDeferredChannelMessageWithSource:
		f.record("defer")
	case discordgo.InteractionResponseDeferredMessageUpdate:
		f.record("defer-update")
	default:
		f.record("respond")
	}
	return nil
}

func (f *fakeResponder) InteractionResponseEdit(_ *discordgo.Interaction, edit *discordgo.WebhookEdit, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.record("edit")
	f.mu.Lock()
	f.edits = append(f.edits, edit)
	f.mu.Unlock()
	return &discordgo.Message{ID: "orig"}, nil
}

func (f *fakeResponder) InteractionResponseDelete(*discordgo.Interaction, ...discordgo.RequestOption) error {
	f.record("delete")
	return nil
}

func (f *fakeResponder) FollowupMessageCreate(_ *discordgo.Interaction, _ bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.record("followup")
	f.mu.Lock()
	f.posts = append(f.posts, data)
	f.mu.Unlock()
	return &discordgo.Message{ID: "f1"}, nil
}

func (f *fakeResponder) FollowupMessageDelete(_ *discordgo.Interaction, id string, _ ...discordgo.RequestOption) error {
	f.record("delete-followup:" + id)
	return nil
}

func (f *fakeResponder) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}
