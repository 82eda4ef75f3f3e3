// Command assistant-chat is a terminal client for the assistant core:
// streamed text chat plus an optional live voice session when the voice
// endpoints and audio devices are available.
package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Caleb-Tech001/study-earn-sub001/internal/audio"
	"github.com/Caleb-Tech001/study-earn-sub001/internal/config"
	"github.com/Caleb-Tech001/study-earn-sub001/pkg/core/types"
	assistant "github.com/Caleb-Tech001/study-earn-sub001/sdk"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))

	opts := []assistant.Option{
		assistant.WithChatURL(cfg.ChatURL),
		assistant.WithLogger(logger),
		assistant.WithHistoryWindow(cfg.HistoryWindow),
		assistant.WithMetricsRegistry(prometheus.DefaultRegisterer),
	}
	if cfg.Username != "" {
		opts = append(opts, assistant.WithSessionContext(assistant.SessionContext{
			"username": cfg.Username,
		}))
	}

	voiceEnabled := cfg.CredentialURL != "" && cfg.RealtimeURL != ""
	if voiceEnabled {
		device, err := audio.NewDevice()
		if err != nil {
			logger.Warn("audio unavailable, voice disabled", "error", err)
			voiceEnabled = false
		} else {
			defer device.Close()
			speaker, err := audio.NewSpeaker()
			if err != nil {
				logger.Warn("speaker unavailable, voice disabled", "error", err)
				voiceEnabled = false
			} else {
				defer speaker.Close()
				opts = append(opts,
					assistant.WithCredentialURL(cfg.CredentialURL),
					assistant.WithRealtimeURL(cfg.RealtimeURL),
					assistant.WithCaptureDevice(device),
					assistant.WithAudioSink(speaker),
				)
			}
		}
	}

	client := assistant.New(opts...)
	defer client.Teardown()

	var printMu sync.Mutex
	printed := make(map[string]int)
	client.Chat.OnUpdate(func(msgs []types.Message) {
		printMu.Lock()
		defer printMu.Unlock()
		if len(msgs) == 0 {
			return
		}
		last := msgs[len(msgs)-1]
		if last.Role != types.RoleAssistant {
			return
		}
		if n := printed[last.ID]; len(last.Content) > n {
			fmt.Print(last.Content[n:])
			printed[last.ID] = len(last.Content)
		}
	})

	client.Voice.OnStateChange(func(st types.VoiceState) {
		switch st.Phase {
		case types.PhaseConnecting:
			fmt.Println("[voice] connecting...")
		case types.PhaseConnected:
			if st.Speaking {
				fmt.Println("[voice] assistant speaking")
			} else {
				fmt.Println("[voice] listening")
			}
		case types.PhaseError:
			fmt.Println("[voice] failed:", st.Reason)
		case types.PhaseIdle:
			fmt.Println("[voice] off")
		}
	})

	fmt.Println("assistant ready. /voice toggles voice, /say <text> speaks into a voice session,")
	fmt.Println("/clear resets the conversation, /quit exits.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return
		case line == "/clear":
			client.Clear()
			fmt.Println("(conversation cleared)")
		case line == "/voice":
			if !voiceEnabled {
				fmt.Println("voice endpoints or audio devices not configured")
				continue
			}
			if client.Voice.State().Phase == types.PhaseConnected {
				client.StopVoice()
			} else {
				client.StartVoice()
			}
		case strings.HasPrefix(line, "/say "):
			if err := client.Voice.SendText(strings.TrimPrefix(line, "/say ")); err != nil {
				fmt.Println("not sent:", err)
			}
		default:
			reply := client.Send(line)
			<-reply.Done()
			fmt.Println()
		}
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
