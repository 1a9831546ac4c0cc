// Package connect provides the admin Connect RPC service and its client.
package connect

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/WieserchGT/BetaGamers/internal/app/session"
	"github.com/WieserchGT/BetaGamers/internal/domain/track"
)

const (
	// AdminServiceName is the fully-qualified name of the admin service.
	AdminServiceName = "musicbox.admin.v1.AdminService"

	GetStatusProcedure = "/" + AdminServiceName + "/GetStatus"
	SkipProcedure      = "/" + AdminServiceName + "/Skip"
	StopProcedure      = "/" + AdminServiceName + "/Stop"
)

// Music is the part of the session manager exposed to administrators.
type Music interface {
	Status() []session.GuildStatus
	Skip(guildID string) (track.Track, error)
	Stop(guildID string) error
}

// AdminService implements the admin RPCs.
type AdminService struct {
	music Music
}

// NewAdminService creates a new AdminService.
func NewAdminService(music Music) *AdminService {
	return &AdminService{music: music}
}

// NewAdminServiceHandler mounts every admin procedure and returns the path
// prefix to register on a mux.
func NewAdminServiceHandler(svc *AdminService, opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(GetStatusProcedure, connect.NewUnaryHandler(GetStatusProcedure, svc.GetStatus, opts...))
	mux.Handle(SkipProcedure, connect.NewUnaryHandler(SkipProcedure, svc.Skip, opts...))
	mux.Handle(StopProcedure, connect.NewUnaryHandler(StopProcedure, svc.Stop, opts...))
	return "/" + AdminServiceName + "/", mux
}

// GetStatus returns the state of every active guild.
func (s *AdminService) GetStatus(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	statuses := s.music.Status()

	guilds := make([]any, 0, len(statuses))
	for _, st := range statuses {
		guilds = append(guilds, guildFields(st))
	}

	resp, err := structpb.NewStruct(map[string]any{"guilds": guilds})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, errors.Wrap(err, "failed to encode status"))
	}
	return connect.NewResponse(resp), nil
}

// Skip skips the current track of a guild.
func (s *AdminService) Skip(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	guildID, err := guildArg(req.Msg)
	if err != nil {
		return nil, err
	}

	skipped, err := s.music.Skip(guildID)
	if err != nil {
		return result(false, err.Error())
	}
	zlog.Info().Msgf("admin skipped track: guild=%s track=%q", guildID, skipped.Title)
	return result(true, "Skipped "+skipped.Title)
}

// Stop stops the queue of a guild.
func (s *AdminService) Stop(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	guildID, err := guildArg(req.Msg)
	if err != nil {
		return nil, err
	}

	if err := s.music.Stop(guildID); err != nil {
		return result(false, err.Error())
	}
	zlog.Info().Msgf("admin stopped queue: guild=%s", guildID)
	return result(true, "Queue stopped")
}

func guildArg(msg *structpb.Struct) (string, error) {
	id := msg.GetFields()["guild_id"].GetStringValue()
	if id == "" {
		return "", connect.NewError(connect.CodeInvalidArgument, errors.New("guild_id is required"))
	}
	return id, nil
}

func result(success bool, message string) (*connect.Response[structpb.Struct], error) {
	resp, err := structpb.NewStruct(map[string]any{
		"success": success,
		"message": message,
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(resp), nil
}

func guildFields(st session.GuildStatus) map[string]any {
	q := st.Queue
	tracks := make([]any, 0, len(q.Tracks))
	for _, t := range q.Tracks {
		tracks = append(tracks, trackFields(t))
	}

	fields := map[string]any{
		"guild_id":         q.GuildID,
		"voice_channel_id": q.VoiceChannelID,
		"text_channel_id":  q.TextChannelID,
		"player_state":     q.State.String(),
		"voice_state":      st.Voice.State.String(),
		"rejoin_attempts":  st.Voice.RejoinAttempts,
		"loop":             q.Loop,
		"muted":            q.Muted,
		"volume":           q.Volume,
		"tracks":           tracks,
	}
	if q.NowPlaying != nil {
		fields["now_playing"] = trackFields(*q.NowPlaying)
	}
	return fields
}

func trackFields(t track.Track) map[string]any {
	return map[string]any{
		"title":     t.Title,
		"locator":   t.Locator,
		"duration":  t.FormattedDuration(),
		"requester": t.Requester.Name,
	}
}
