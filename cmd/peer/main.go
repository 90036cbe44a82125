// Command peer is a headless study-session participant: it joins a group,
// negotiates media with everyone in the room and stays until interrupted.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/cbrcs/studysession/internal/adapters/rtc"
	"github.com/cbrcs/studysession/internal/client"
	"github.com/cbrcs/studysession/internal/domain"
	"github.com/cbrcs/studysession/internal/protocol"
)

func flags() *viper.Viper {
	fs := pflag.NewFlagSet("peer", pflag.ExitOnError)
	fs.String("server", "http://localhost:8080", "registry base url")
	fs.String("group", "", "study group id")
	fs.String("user", "", "user id")
	fs.String("name", "", "display name")
	fs.String("password", "", "group password, if any")
	fs.Bool("muted", true, "join muted")
	fs.Bool("camera-off", true, "join with camera off")
	fs.StringSlice("ice", rtc.DefaultICEServers, "ICE server urls")
	fs.String("chat", "", "chat message to send once connected")
	fs.Duration("keepalive", time.Minute, "registry keep-alive interval, 0 disables")
	fs.Duration("duration", 0, "leave after this long, 0 waits for a signal")
	fs.String("log-level", "info", "log level")
	_ = fs.Parse(os.Args[1:])

	v := viper.New()
	v.SetEnvPrefix("STUDY_PEER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindPFlags(fs)
	return v
}

type logObserver struct{}

func (logObserver) OnStateChange(s client.State) {
	log.Info().Str("module", "peer").Str("state", s.String()).Msg("room state")
}

func (logObserver) OnParticipants(ps []domain.Participant) {
	log.Info().Str("module", "peer").Int("count", len(ps)).Msg("participants")
}

func (logObserver) OnChat(e client.ChatEntry) {
	log.Info().Str("module", "peer").Str("at", e.Clock).Str("from", e.SenderName).Msg(e.Message)
}

func (logObserver) OnHandRaise(u protocol.HandRaiseUpdate) {
	log.Info().Str("module", "peer").Str("who", u.ParticipantName).Bool("raised", u.HandRaised).Msg("hand")
}

func (logObserver) OnError(err error) {
	log.Warn().Err(err).Str("module", "peer").Msg("room error")
}

func main() {
	v := flags()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	if level, err := zerolog.ParseLevel(v.GetString("log-level")); err == nil && level != zerolog.NoLevel {
		zerolog.SetGlobalLevel(level)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	group := domain.GroupID(v.GetString("group"))
	if group == "" || v.GetString("user") == "" {
		log.Fatal().Msg("--group and --user are required")
	}

	reg, err := client.NewRegistryClient(v.GetString("server"), nil)
	if err != nil {
		log.Fatal().Err(err).Msg("registry client")
	}

	sess, err := client.Open(ctx, client.Options{
		Registry: reg,
		GroupID:  group,
		UserID:   domain.UserID(v.GetString("user")),
		UserName: v.GetString("name"),
		Password: v.GetString("password"),
		Initial: domain.MediaStatus{
			Muted:     v.GetBool("muted"),
			CameraOff: v.GetBool("camera-off"),
		},
		Devices:  rtc.SyntheticDevices{},
		Factory:  rtc.NewFactory(rtc.NewWebRTCConfig(v.GetStringSlice("ice"))),
		Observer: logObserver{},
	})
	if err != nil {
		log.Fatal().Err(err).Str("group", string(group)).Msg("join failed")
	}

	if msg := v.GetString("chat"); msg != "" {
		go func() {
			for sess.Room().State() == client.StateConnecting {
				time.Sleep(50 * time.Millisecond)
			}
			if err := sess.SendChat(msg); err != nil {
				log.Warn().Err(err).Str("module", "peer").Msg("chat")
			}
		}()
	}

	var keepalive <-chan time.Time
	if d := v.GetDuration("keepalive"); d > 0 {
		t := time.NewTicker(d)
		defer t.Stop()
		keepalive = t.C
	}
	var deadline <-chan time.Time
	if d := v.GetDuration("duration"); d > 0 {
		deadline = time.After(d)
	}

wait:
	for {
		select {
		case <-keepalive:
			if err := reg.KeepAlive(ctx, group); err != nil {
				log.Warn().Err(err).Str("module", "peer").Msg("keep-alive")
			}
		case <-sess.Done():
			log.Info().Str("module", "peer").Msg("disconnected by server")
			return
		case <-ctx.Done():
			break wait
		case <-deadline:
			break wait
		}
	}

	leaveCtx, leaveCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer leaveCancel()
	deleted, err := sess.Leave(leaveCtx)
	if err != nil {
		log.Warn().Err(err).Str("module", "peer").Msg("leave")
	}
	log.Info().Str("module", "peer").Bool("group_deleted", deleted).Msg("left")
}
